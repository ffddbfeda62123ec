package stimulate

import (
	"fmt"
	"io"

	"github.com/ColonelBlimp/stimcore/internal/audio"
	"github.com/ColonelBlimp/stimcore/internal/protocol"
)

// Devices lists everything the stimulator can be attached to.
type Devices struct {
	Audio  audio.DeviceList
	Serial []string
}

// ListDevices enumerates audio devices and serial ports. A failure on one
// side is returned alongside whatever the other side found.
func ListDevices() (Devices, error) {
	var d Devices
	var err error
	d.Audio, err = audio.ListAll()
	if err != nil {
		err = fmt.Errorf("audio: %w", err)
	}
	ports, perr := protocol.Ports()
	if perr != nil {
		if err == nil {
			err = perr
		}
	} else {
		d.Serial = ports
	}
	return d, err
}

// Print writes the device list in the index order the config expects.
func (d Devices) Print(w io.Writer) {
	fmt.Fprintln(w, "Playback devices (output_device_index):")
	for i, info := range d.Audio.Playback {
		fmt.Fprintf(w, "  [%d] %s\n", i, info.Name())
	}
	fmt.Fprintln(w, "Capture devices (input_device_index):")
	for i, info := range d.Audio.Capture {
		fmt.Fprintf(w, "  [%d] %s\n", i, info.Name())
	}
	fmt.Fprintln(w, "Serial ports (serial_port):")
	if len(d.Serial) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, p := range d.Serial {
		fmt.Fprintf(w, "  %s\n", p)
	}
}
