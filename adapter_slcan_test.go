package robstride

import "testing"

func TestSLCanCloseBeforeOpen(t *testing.T) {
	dev, err := NewSLCan(&AdapterConfig{})
	if err != nil {
		t.Fatalf("NewSLCan() error: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Close() before Open returned %v", err)
	}
}
