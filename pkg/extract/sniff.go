package extract

import "bytes"

// sniffScanLimit bounds the substring scan to small buffers.
const sniffScanLimit = 1000000

type prefixRule struct {
	prefix []byte
	ext    string
}

// Prefix rules are checked in order; the first match wins.
var prefixRules = []prefixRule{
	{[]byte("CocosStudio-UI"), "coc"},
	{[]byte{0x28, 0xB5, 0x2F, 0xFD}, "zst"},
	{[]byte{0x50, 0x4B, 0x03, 0x04}, "zip"},
	{[]byte{0x50, 0x4B, 0x05, 0x06}, "zip"},
	{[]byte("SKELETON"), "skeleton"},
	{[]byte("%"), "tpl"},
	{[]byte("{"), "json"},
	{[]byte("hit"), "hit"},
	{[]byte("PKM"), "pkm"},
	{[]byte("PVR"), "pvr"},
	{[]byte("DDS"), "dds"},
	{[]byte("BM"), "bmp"},
	{[]byte("from typing import "), "pyi"},
	{[]byte("KTX"), "ktx"},
	{[]byte("PNG"), "png"},
	{[]byte("VANT"), "vant"},
	{[]byte("MDMP"), "mdmp"},
	{[]byte("RGIS"), "gis"},
	{[]byte("NTRK"), "ntrk"},
	{[]byte("RIFF"), "riff"},
	{[]byte("BKHD"), "bnk"},
	{[]byte("-----BEGIN PUBLIC KEY-----"), "pem"},
	{[]byte("<"), "xml"},
	{[]byte{0x34, 0x80, 0xC8, 0xBB}, "mesh"},
	{[]byte{0x14, 0x00, 0x00, 0x00}, "type1"},
	{[]byte{0x04, 0x00, 0x00, 0x00}, "type2"},
	{[]byte{0x00, 0x01, 0x00, 0x00}, "type3"},
	{[]byte{0xE3, 0x00, 0x00, 0x00}, "pyc"},
	{[]byte{0x63, 0x00, 0x00, 0x00}, "pyc"},
}

var (
	rotPrefixes = [][]byte{{0x28, 0xB5}, {0x1D, 0x04}, {0x15, 0x23}}
	tgaPrefixes = [][]byte{{0x00, 0x00, 0x02}, {0x0D, 0x00, 0x02}}
	tgaFooter   = []byte("TRUEVISION-XFILE")
	nxs3Mark    = []byte{0x4E, 0x58, 0x53, 0x33, 0x03, 0x00, 0x00, 0x01}
)

type scanRule struct {
	needles [][]byte
	ext     string
}

// Substring rules run case-insensitively over buffers below
// sniffScanLimit, again first match wins.
var scanRules = []scanRule{
	{[][]byte{[]byte("package google.protobuf")}, "proto"},
	{[][]byte{[]byte("#ifndef google_protobuf")}, "h"},
	{[][]byte{[]byte("#include <google/protobuf")}, "cc"},
	{[][]byte{[]byte("void"), []byte("main("), []byte("include"), []byte("float")}, "shader"},
	{[][]byte{[]byte("technique"), []byte("ifndef")}, "shader"},
	{[][]byte{[]byte("?xml")}, "xml"},
	{[][]byte{[]byte("<script")}, "html"},
	{[][]byte{[]byte("javascript")}, "js"},
	{[][]byte{[]byte("biped"), []byte("bip001"), []byte("bone"), []byte("bone001"), []byte("bip01")}, "model"},
	{[][]byte{[]byte("div.document")}, "css"},
}

// Sniff classifies a raw byte buffer into a file extension tag. It is a
// pure function: routing for zip/zst post-processing and detection of
// the rot/nxs3 wrappers both depend on it.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return "none"
	}

	for _, r := range prefixRules {
		if bytes.HasPrefix(data, r.prefix) {
			return r.ext
		}
	}

	if len(data) >= 18 && bytes.Equal(data[len(data)-18:len(data)-2], tgaFooter) {
		return "tga"
	}
	for _, p := range tgaPrefixes {
		if bytes.HasPrefix(data, p) {
			return "tga"
		}
	}
	for _, p := range rotPrefixes {
		if bytes.HasPrefix(data, p) {
			return "rot"
		}
	}
	if len(data) >= 15 && bytes.Equal(data[7:15], nxs3Mark) {
		return "nxs3"
	}

	if len(data) < sniffScanLimit {
		lower := bytes.ToLower(data)
		for _, r := range scanRules {
			for _, needle := range r.needles {
				if bytes.Contains(lower, needle) {
					return r.ext
				}
			}
		}
	}

	return "dat"
}
