package store

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "uuid run",
			key:  Key{RunID: "0b6f2c1e-7d0a-4c7e-9f51-2a4d1c3b5e6f", Report: "user_activity"},
			want: "reportstream:snapshot:0b6f2c1e-7d0a-4c7e-9f51-2a4d1c3b5e6f:user_activity",
		},
		{
			name: "short run",
			key:  Key{RunID: "run-1", Report: "item_usage"},
			want: "reportstream:snapshot:run-1:item_usage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"valid", Key{RunID: "run-1", Report: "user_activity"}, false},
		{"missing run", Key{Report: "user_activity"}, true},
		{"missing report", Key{RunID: "run-1"}, true},
		{"separator in report", Key{RunID: "run-1", Report: "a:b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.key.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIndexKeys(t *testing.T) {
	if got := runIndexKey("run-1"); got != "reportstream:run:run-1:reports" {
		t.Errorf("runIndexKey() = %q", got)
	}
	if got := latestKey("user_activity"); got != "reportstream:latest:user_activity" {
		t.Errorf("latestKey() = %q", got)
	}
}
