package mqtt

import "testing"

func TestTopics(t *testing.T) {
	tests := []struct {
		device      string
		wantStatus  string
		wantCommand string
	}{
		{
			device:      "2a5b3c4d5e6f",
			wantStatus:  "dontek2a5b3c4d5e6f/status/psw",
			wantCommand: "dontek2a5b3c4d5e6f/cmd/psw",
		},
		{
			device:      "002a5b3c4d5e6f",
			wantStatus:  "dontek002a5b3c4d5e6f/status/psw",
			wantCommand: "dontek002a5b3c4d5e6f/cmd/psw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			topics := Topics{Device: tt.device}
			if got := topics.Status(); got != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", got, tt.wantStatus)
			}
			if got := topics.Command(); got != tt.wantCommand {
				t.Errorf("Command() = %q, want %q", got, tt.wantCommand)
			}
		})
	}
}

func TestTopicsIsZero(t *testing.T) {
	if !(Topics{}).IsZero() {
		t.Error("Topics{}.IsZero() = false, want true")
	}
	if (Topics{Device: "2a"}).IsZero() {
		t.Error("IsZero() = true for a device")
	}
}
