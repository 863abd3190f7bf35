package testutil

import (
	"bytes"
	"reflect"
)

// EncodedSamplesT holds encoded byte sequences for testing charset detection and repair.
type EncodedSamplesT struct {
	Win1252_SmartQuoteRight []byte
	Win1252_EnDash          []byte
	Win1252_Euro            []byte
	Latin1_OAcute           []byte
	Latin1_UUmlaut          []byte

	// Long enough for chardet to identify with high confidence.
	ShiftJIS_Long      []byte
	ShiftJIS_Long_UTF8 string
	GBK_Long           []byte
	GBK_Long_UTF8      string
}

var encodedSamples = EncodedSamplesT{
	Win1252_SmartQuoteRight: []byte("Rand\x92s Opponent"),
	Win1252_EnDash:          []byte("2020 \x96 2024"),
	Win1252_Euro:            []byte("Price: \x80100"),

	Latin1_OAcute:  []byte("Mir\xf3 - Picasso"),
	Latin1_UUmlaut: []byte("M\xfcnchen"),

	ShiftJIS_Long: []byte{
		0x93, 0xfa, 0x96, 0x7b, 0x8c, 0xea, 0x82, 0xcc, 0x83, 0x65, 0x83, 0x4c,
		0x83, 0x58, 0x83, 0x67, 0x83, 0x54, 0x83, 0x93, 0x83, 0x76, 0x83, 0x8b,
		0x82, 0xc5, 0x82, 0xb7, 0x81, 0x42, 0x82, 0xb1, 0x82, 0xea, 0x82, 0xcd,
		0x95, 0xb6, 0x8e, 0x9a, 0x89, 0xbb, 0x82, 0xaf, 0x82, 0xcc, 0x83, 0x65,
		0x83, 0x58, 0x83, 0x67, 0x82, 0xc9, 0x8e, 0x67, 0x97, 0x70, 0x82, 0xb3,
		0x82, 0xea, 0x82, 0xdc, 0x82, 0xb7, 0x81, 0x42,
	},
	ShiftJIS_Long_UTF8: "日本語のテキストサンプルです。これは文字化けのテストに使用されます。",

	GBK_Long: []byte{
		0xd5, 0xe2, 0xca, 0xc7, 0xd2, 0xbb, 0xb8, 0xf6, 0xd6, 0xd0, 0xce, 0xc4,
		0xce, 0xc4, 0xb1, 0xbe, 0xca, 0xbe, 0xc0, 0xfd, 0xa3, 0xac, 0xd3, 0xc3,
		0xd3, 0xda, 0xb2, 0xe2, 0xca, 0xd4, 0xd7, 0xd6, 0xb7, 0xfb, 0xb1, 0xe0,
		0xc2, 0xeb, 0xbc, 0xec, 0xb2, 0xe2, 0xb9, 0xa6, 0xc4, 0xdc, 0xa1, 0xa3,
	},
	GBK_Long_UTF8: "这是一个中文文本示例，用于测试字符编码检测功能。",
}

// EncodedSamples returns a fresh copy of all encoded byte samples, safe for
// mutation by individual tests.
func EncodedSamples() EncodedSamplesT {
	original := reflect.ValueOf(encodedSamples)
	copyElem := reflect.New(original.Type()).Elem()
	for i := 0; i < original.NumField(); i++ {
		src := original.Field(i)
		dst := copyElem.Field(i)
		switch src.Kind() {
		case reflect.Slice:
			dst.SetBytes(bytes.Clone(src.Bytes()))
		case reflect.String:
			dst.SetString(src.String())
		}
	}
	return copyElem.Interface().(EncodedSamplesT)
}
