package adbusb

import "testing"

// descriptor blob builders for parse tests

func deviceDesc() []byte {
	d := make([]byte, 18)
	d[0] = 18
	d[1] = descriptorTypeDevice
	return d
}

func configDesc(value uint8) []byte {
	return []byte{9, descriptorTypeConfiguration, 0, 0, 1, value, 0, 0x80, 50}
}

func interfaceDesc(num, alt, class, subclass, protocol uint8) []byte {
	return []byte{9, descriptorTypeInterface, num, alt, 2, class, subclass, protocol, 0}
}

func endpointDesc(address, attrs uint8, mps uint16) []byte {
	return []byte{7, descriptorTypeEndpoint, address, attrs, byte(mps), byte(mps >> 8), 0}
}

func TestParseConfigurations(t *testing.T) {
	var raw []byte
	raw = append(raw, deviceDesc()...)
	raw = append(raw, configDesc(1)...)
	raw = append(raw, interfaceDesc(0, 0, 0x08, 0x06, 0x50)...)
	raw = append(raw, endpointDesc(0x82, EndpointTypeBulk, 512)...)
	raw = append(raw, endpointDesc(0x02, EndpointTypeBulk, 512)...)
	raw = append(raw, interfaceDesc(1, 0, ADBClass, ADBSubclass, ADBProtocol)...)
	raw = append(raw, endpointDesc(0x81, EndpointTypeBulk, 512)...)
	raw = append(raw, endpointDesc(0x01, EndpointTypeBulk, 512)...)

	cfgs, err := parseConfigurations(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfgs) != 1 || cfgs[0].Value != 1 {
		t.Fatalf("configs: %+v", cfgs)
	}
	if len(cfgs[0].Interfaces) != 2 {
		t.Fatalf("interfaces: %+v", cfgs[0].Interfaces)
	}

	adb := cfgs[0].Interfaces[1]
	if !adb.IsADB() {
		t.Errorf("second interface should match the ADB triple: %+v", adb)
	}
	if len(adb.Endpoints) != 2 {
		t.Fatalf("endpoints: %+v", adb.Endpoints)
	}
	if in := adb.Endpoints[0]; !in.In() || !in.IsBulk() || in.MaxPacketSize != 512 || in.Number() != 1 {
		t.Errorf("in endpoint: %+v", in)
	}
	if out := adb.Endpoints[1]; out.In() || !out.IsBulk() {
		t.Errorf("out endpoint: %+v", out)
	}

	cfg, iface, ok := findADBInterface(cfgs)
	if !ok || cfg.Value != 1 || iface.Number != 1 {
		t.Errorf("findADBInterface: %v %+v", ok, iface)
	}
}

func TestParseConfigurationsSkipsClassSpecific(t *testing.T) {
	var raw []byte
	raw = append(raw, deviceDesc()...)
	raw = append(raw, configDesc(1)...)
	raw = append(raw, interfaceDesc(0, 0, ADBClass, ADBSubclass, ADBProtocol)...)
	raw = append(raw, 5, 0x24, 0x00, 0x10, 0x01) // class-specific interface descriptor
	raw = append(raw, endpointDesc(0x81, EndpointTypeBulk, 64)...)
	raw = append(raw, endpointDesc(0x01, EndpointTypeBulk, 64)...)

	cfgs, err := parseConfigurations(raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, iface, ok := findADBInterface(cfgs); !ok || len(iface.Endpoints) != 2 {
		t.Fatalf("adb interface not found through class-specific descriptors: %+v", cfgs)
	}
}

func TestParseConfigurationsErrors(t *testing.T) {
	if _, err := parseConfigurations(nil); err == nil {
		t.Errorf("expected error for empty blob")
	}
	if _, err := parseConfigurations([]byte{18, 0x05}); err == nil {
		t.Errorf("expected error for wrong first descriptor")
	}

	raw := append(deviceDesc(), configDesc(1)...)
	raw = append(raw, 9, descriptorTypeInterface) // truncated
	if _, err := parseConfigurations(raw); err == nil {
		t.Errorf("expected error for truncated descriptor")
	}
}
