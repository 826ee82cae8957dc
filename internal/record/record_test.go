package record

import "testing"

func TestRemoteRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  RemoteRecord
		wantErr bool
	}{
		{
			name:   "valid",
			record: RemoteRecord{ID: 1, Name: "Alice", Email: "a@x.com", Phone: "1"},
		},
		{
			name:   "valid without email and phone",
			record: RemoteRecord{ID: 2, Name: "Bob"},
		},
		{
			name:    "zero id",
			record:  RemoteRecord{ID: 0, Name: "Alice"},
			wantErr: true,
		},
		{
			name:    "negative id",
			record:  RemoteRecord{ID: -3, Name: "Alice"},
			wantErr: true,
		},
		{
			name:    "empty name",
			record:  RemoteRecord{ID: 1, Name: ""},
			wantErr: true,
		},
		{
			name:    "whitespace-only name",
			record:  RemoteRecord{ID: 1, Name: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRemoteRecordToRecord_TrimsWhitespace(t *testing.T) {
	rr := RemoteRecord{ID: 7, Name: "  Alice  ", Email: " a@x.com ", Phone: " 1 "}

	got := rr.ToRecord()
	want := Record{ID: 7, Name: "Alice", Email: "a@x.com", Phone: "1"}

	if got != want {
		t.Errorf("ToRecord() = %+v, want %+v", got, want)
	}
}
