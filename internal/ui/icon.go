package ui

// iconBytes is the 16x16 tray icon (PNG).
var iconBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff, 0x61, 0x00, 0x00, 0x00,
	0x2d, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x60, 0xa0, 0x06, 0x50,
	0xa8, 0xb8, 0xf3, 0x9f, 0x1c, 0x4c, 0x7b, 0x03, 0x60, 0x60, 0xd4, 0x80,
	0x81, 0x30, 0x00, 0x17, 0x20, 0xc9, 0x05, 0x84, 0x34, 0xd3, 0xce, 0x0b,
	0x84, 0x00, 0x7d, 0x93, 0x32, 0xd1, 0x06, 0x50, 0x02, 0x00, 0x5d, 0x55,
	0x11, 0x4b, 0xa7, 0x42, 0x2f, 0xb3, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45,
	0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
