package can

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
		ok   bool
	}{
		{"stdMax", Frame{ID: 0x7FF, DLC: 8}, true},
		{"stdOver", Frame{ID: 0x800}, false},
		{"extMax", Frame{ID: 0x1FFFFFFF, Extended: true}, true},
		{"extOver", Frame{ID: 0x20000000, Extended: true}, false},
		{"dlcOver", Frame{ID: 1, DLC: 9}, false},
	}
	for _, tc := range tests {
		if err := tc.f.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

func TestFromRawRoundTrip(t *testing.T) {
	f := Frame{ID: 0x1ABCDEF0, Extended: true, RTR: true, DLC: 3, Data: [8]byte{1, 2, 3}}
	got := FromRaw(f.RawID(), f.DLC, f.Data[:f.DLC])
	if got != f {
		t.Fatalf("round trip: got %+v want %+v", got, f)
	}
	std := FromRaw(0x123, 2, []byte{0xAA, 0xBB})
	if std.Extended || std.RTR || std.ID != 0x123 || std.Data[0] != 0xAA {
		t.Fatalf("std frame: %+v", std)
	}
}

func TestFromRawClampsDLC(t *testing.T) {
	f := FromRaw(0x100, 15, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if f.DLC != MaxDataLen {
		t.Fatalf("dlc = %d", f.DLC)
	}
}
