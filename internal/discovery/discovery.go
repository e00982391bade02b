// Package discovery enumerates attached serial ports that belong to a
// known microcontroller USB vendor ID, resolving USB descriptors to tty
// device nodes the way the OS makes that mapping available.
package discovery

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/amalcolm/TeensyMonitor/internal/logging"
	"github.com/google/gousb"
)

// VendorIDs is the set of USB vendor IDs recognised as tethered
// microcontroller boards: FTDI, Prolific, QinHeng CH340, Silicon Labs
// CP210x, Van Ooijen/PJRC (Teensy), Arduino, Adafruit (RP2040), STMicro,
// Microchip.
var VendorIDs = map[gousb.ID]bool{
	0x0403: true,
	0x067B: true,
	0x1A86: true,
	0x10C4: true,
	0x16C0: true,
	0x2341: true,
	0x2E8A: true,
	0x0483: true,
	0x04D8: true,
}

var byIDVendorRe = regexp.MustCompile(`_VID_([0-9A-Fa-f]{4})`)

// Ports returns the device-node paths of every attached serial port whose
// USB vendor ID is in VendorIDs, sorted by the numeric suffix of the port
// name so that "ttyACM10" sorts after "ttyACM9", not after "ttyACM1".
//
// Resolution tries three strategies in order, falling back to the next
// only when the previous one finds nothing: the /dev/serial/by-id
// symlink farm (which encodes the vendor ID in its link names and is
// already tty-resolved), walking the USB descriptor tree with gousb, and
// finally a raw glob over /dev/ttyACM*/​/dev/ttyUSB*. The glob fallback
// does no vendor filtering, so its results are not limited to VendorIDs.
func Ports(log *logging.Logger) []string {
	if ports := portsFromByID(); len(ports) > 0 {
		return sortByNumericSuffix(ports)
	}
	if ports := portsFromUSBTree(log); len(ports) > 0 {
		return sortByNumericSuffix(ports)
	}
	return sortByNumericSuffix(portsFromGlob())
}

// portsFromByID resolves /dev/serial/by-id symlinks, whose names carry
// the device's VID, to their target tty device node.
func portsFromByID() []string {
	const dir = "/dev/serial/by-id"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var ports []string
	for _, e := range entries {
		m := byIDVendorRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		vid, err := strconv.ParseUint(m[1], 16, 16)
		if err != nil || !VendorIDs[gousb.ID(vid)] {
			continue
		}
		target, err := filepath.EvalSymlinks(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		ports = append(ports, target)
	}
	return ports
}

// portsFromUSBTree walks the USB descriptor tree directly. gousb's scope
// is USB descriptors, not tty device nodes, so a matched device only
// tells us it exists; we still have to guess its tty node from bus/port
// numbering, which on Linux is not guaranteed to correspond to a
// /dev/ttyACM* index. This strategy is a best-effort fallback for when
// by-id symlinks are unavailable (e.g. a udev rule hasn't populated
// them yet), not a primary source of truth.
func portsFromUSBTree(log *logging.Logger) []string {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var matched []*gousb.DeviceDesc
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if VendorIDs[desc.Vendor] {
			matched = append(matched, desc)
		}
		return false
	})
	if err != nil && log != nil {
		log.Warn("usb descriptor walk failed", "err", err)
	}
	for _, d := range devices {
		d.Close()
	}

	var ports []string
	for _, desc := range matched {
		node := guessACMNode(desc)
		if node != "" {
			ports = append(ports, node)
		}
	}
	return ports
}

// guessACMNode maps a USB device address (the bus number is not used) to
// the usual Linux CDC-ACM naming convention. This is a heuristic, not an authoritative lookup.
func guessACMNode(desc *gousb.DeviceDesc) string {
	candidate := filepath.Join("/dev", "ttyACM"+strconv.Itoa(int(desc.Address)-1))
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// portsFromGlob is the last-resort strategy: every CDC-ACM or USB-serial
// node present on the system, with no vendor filtering at all since the
// glob carries no USB descriptor information.
func portsFromGlob() []string {
	var ports []string
	for _, pattern := range []string{"/dev/ttyACM*", "/dev/ttyUSB*"} {
		matches, _ := filepath.Glob(pattern)
		ports = append(ports, matches...)
	}
	return ports
}

var trailingDigitsRe = regexp.MustCompile(`([0-9]+)$`)

// sortByNumericSuffix sorts port names by the integer value of their
// trailing digit run, so "COM10" sorts after "COM9" rather than between
// "COM1" and "COM2".
func sortByNumericSuffix(ports []string) []string {
	out := append([]string(nil), ports...)
	sort.Slice(out, func(i, j int) bool {
		pi, ni := splitSuffix(out[i])
		pj, nj := splitSuffix(out[j])
		if pi != pj {
			return pi < pj
		}
		return ni < nj
	})
	return out
}

func splitSuffix(name string) (prefix string, n int) {
	m := trailingDigitsRe.FindStringSubmatchIndex(name)
	if m == nil {
		return name, -1
	}
	prefix = name[:m[2]]
	n, _ = strconv.Atoi(name[m[2]:m[3]])
	return prefix, n
}
