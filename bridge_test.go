package main

import "testing"

func TestParseDeviceList(t *testing.T) {
	output := `List of devices attached
1234567890ABCDEF       device usb:1-1 product:raven model:Pixel_6_Pro device:raven transport_id:1
emulator-5554          device product:sdk_gphone64 model:sdk_gphone64_x86_64 device:emu64x transport_id:2
192.168.1.100:5555     unauthorized transport_id:3
FA77J0304894           offline

`
	devices := parseDeviceList(output)

	if len(devices) != 4 {
		t.Fatalf("Expected 4 devices, got %d", len(devices))
	}

	if devices[0].ID != "1234567890ABCDEF" || devices[0].State != "device" {
		t.Errorf("Device 0: got %+v", devices[0])
	}
	if devices[0].Model != "Pixel 6 Pro" {
		t.Errorf("Expected model underscores replaced, got %q", devices[0].Model)
	}
	if !devices[0].Ready() {
		t.Error("State 'device' should be ready")
	}

	if devices[2].ID != "192.168.1.100:5555" || devices[2].State != "unauthorized" {
		t.Errorf("Device 2: got %+v", devices[2])
	}
	if devices[2].Ready() {
		t.Error("Unauthorized device should not be ready")
	}

	if devices[3].State != "offline" || devices[3].Ready() {
		t.Errorf("Device 3: got %+v", devices[3])
	}
}

func TestParseDeviceListEmpty(t *testing.T) {
	output := "List of devices attached\n\n"
	if devices := parseDeviceList(output); len(devices) != 0 {
		t.Errorf("Expected no devices, got %d", len(devices))
	}
}

func TestParseDeviceListSkipsDaemonNoise(t *testing.T) {
	output := `* daemon not running; starting now at tcp:5037
* daemon started successfully
List of devices attached
ABC123	device
`
	devices := parseDeviceList(output)
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	if devices[0].ID != "ABC123" {
		t.Errorf("Expected ABC123, got %s", devices[0].ID)
	}
}

func TestValidateDeviceID(t *testing.T) {
	valid := []string{
		"1234567890ABCDEF",
		"emulator-5554",
		"192.168.1.100:5555",
		"adb-XXXX._adb-tls-connect._tcp.",
	}
	for _, id := range valid {
		if err := ValidateDeviceID(id); err != nil {
			t.Errorf("Expected %q to be valid: %v", id, err)
		}
	}

	invalid := []string{
		"",
		"abc; rm -rf /",
		"dev$(whoami)",
		"id with spaces",
		"back`tick`",
	}
	for _, id := range invalid {
		if err := ValidateDeviceID(id); err == nil {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}
