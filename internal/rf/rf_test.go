package rf

import "testing"

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    Port
		wantErr bool
	}{
		{in: "A1", want: PortA1},
		{in: "b4", want: PortB4},
		{in: " a3 ", want: PortA3},
		{in: "C1", wantErr: true},
		{in: "A5", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePort(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePort(%q) = %s, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePort(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParsePort(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestRingRotation(t *testing.T) {
	r := NewRing(PortA4)
	if r.Active() != PortA4 {
		t.Fatalf("Active = %s, want A4", r.Active())
	}

	want := []Port{PortA3, PortA2, PortA1, PortB4, PortB3, PortB2, PortB1, PortA4}
	for i, p := range want {
		if got := r.Next(); got != p {
			t.Fatalf("Next #%d = %s, want %s", i+1, got, p)
		}
	}
}

func TestRingSetRepositions(t *testing.T) {
	r := NewRing(PortA4)
	r.Set(PortB4)
	if got := r.Next(); got != PortB3 {
		t.Errorf("Next after Set(B4) = %s, want B3", got)
	}

	// Unknown ports leave the position untouched.
	r.Set("C9")
	if got := r.Active(); got != PortB3 {
		t.Errorf("Active after Set(C9) = %s, want B3", got)
	}
}

func TestFormatHz(t *testing.T) {
	tests := []struct {
		hz   float64
		want string
	}{
		{hz: 433.92e6, want: "433.920 MHz"},
		{hz: 2.44e9, want: "2.440 GHz"},
		{hz: 915e3, want: "915.000 kHz"},
	}
	for _, tt := range tests {
		if got := FormatHz(tt.hz); got != tt.want {
			t.Errorf("FormatHz(%g) = %q, want %q", tt.hz, got, tt.want)
		}
	}
}
