//go:build integration

package stimulate

import (
	"os"
	"testing"
)

func TestListDevices_Integration(t *testing.T) {
	d, err := ListDevices()
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(d.Audio.Playback) == 0 {
		t.Skip("no playback devices available")
	}
	d.Print(os.Stdout)
}
