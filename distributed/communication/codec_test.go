package communication

import (
	"bytes"
	"testing"
)

func TestEncodeScanRangesInlinesSmallAssignments(t *testing.T) {
	ranges := PerNodeScanRanges{0: {{Ordinal: 0}, {Ordinal: 1}}}
	params := &ExecPlanFragmentParams{}
	if err := EncodeScanRanges(params, ranges); err != nil {
		t.Fatalf("EncodeScanRanges: %v", err)
	}
	if params.ScanRangesEncoded != nil {
		t.Fatalf("small assignment should be inlined, not encoded")
	}
	if len(params.ScanRanges[0]) != 2 {
		t.Fatalf("ScanRanges[0] = %v, want 2 entries", params.ScanRanges[0])
	}
}

func TestEncodeScanRangesCompressesLargeAssignments(t *testing.T) {
	var rs []ScanRange
	for i := 0; i < ScanRangeInlineThreshold+5; i++ {
		rs = append(rs, ScanRange{Path: "f", Ordinal: i})
	}
	ranges := PerNodeScanRanges{0: rs}
	params := &ExecPlanFragmentParams{}
	if err := EncodeScanRanges(params, ranges); err != nil {
		t.Fatalf("EncodeScanRanges: %v", err)
	}
	if params.ScanRanges != nil {
		t.Fatalf("large assignment should not be left inline")
	}
	if params.ScanRangesCodec != "snappy" {
		t.Fatalf("ScanRangesCodec = %q, want snappy", params.ScanRangesCodec)
	}
	if len(params.ScanRangesEncoded) == 0 {
		t.Fatalf("expected a non-empty encoded payload")
	}
}

func TestScanRangesRoundTripInline(t *testing.T) {
	ranges := PerNodeScanRanges{0: {{Path: "f", Ordinal: 0}, {Path: "f", Ordinal: 1}}}
	params := &ExecPlanFragmentParams{}
	if err := EncodeScanRanges(params, ranges); err != nil {
		t.Fatalf("EncodeScanRanges: %v", err)
	}
	got, err := DecodeScanRanges(params)
	if err != nil {
		t.Fatalf("DecodeScanRanges: %v", err)
	}
	if len(got[0]) != 2 {
		t.Fatalf("got %v, want 2 ranges", got[0])
	}
}

func TestScanRangesRoundTripCompressed(t *testing.T) {
	var rs []ScanRange
	for i := 0; i < ScanRangeInlineThreshold+20; i++ {
		rs = append(rs, ScanRange{Path: "f", Ordinal: i, Length: int64(i)})
	}
	ranges := PerNodeScanRanges{0: rs}
	params := &ExecPlanFragmentParams{}
	if err := EncodeScanRanges(params, ranges); err != nil {
		t.Fatalf("EncodeScanRanges: %v", err)
	}
	got, err := DecodeScanRanges(params)
	if err != nil {
		t.Fatalf("DecodeScanRanges: %v", err)
	}
	if len(got[0]) != len(rs) {
		t.Fatalf("got %d ranges, want %d", len(got[0]), len(rs))
	}
	for i, r := range got[0] {
		if r.Ordinal != rs[i].Ordinal || r.Length != rs[i].Length {
			t.Fatalf("range %d = %+v, want %+v", i, r, rs[i])
		}
	}
}

func TestDecodeScanRangesUnknownCodec(t *testing.T) {
	params := &ExecPlanFragmentParams{ScanRangesEncoded: []byte("garbage"), ScanRangesCodec: "lz4"}
	if _, err := DecodeScanRanges(params); err == nil {
		t.Fatalf("expected an error for an unknown scan-range codec")
	}
}

func TestEncodeProfileNoneLeavesBytesUnchanged(t *testing.T) {
	raw := []byte("profile payload")
	data, codec, err := EncodeProfile("", raw)
	if err != nil {
		t.Fatalf("EncodeProfile: %v", err)
	}
	if codec != "" {
		t.Fatalf("codec = %q, want empty", codec)
	}
	if !bytes.Equal(data, raw) {
		t.Fatalf("data = %v, want unchanged %v", data, raw)
	}
}

func TestProfileRoundTripSnappy(t *testing.T) {
	raw := []byte("a fairly repetitive profile payload profile payload profile payload")
	data, codec, err := EncodeProfile("snappy", raw)
	if err != nil {
		t.Fatalf("EncodeProfile: %v", err)
	}
	if codec != "snappy" {
		t.Fatalf("codec = %q, want snappy", codec)
	}
	got, err := DecodeProfile(codec, data)
	if err != nil {
		t.Fatalf("DecodeProfile: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, raw)
	}
}

func TestProfileRoundTripZstd(t *testing.T) {
	raw := []byte("a fairly repetitive profile payload profile payload profile payload")
	data, codec, err := EncodeProfile("zstd", raw)
	if err != nil {
		t.Fatalf("EncodeProfile: %v", err)
	}
	if codec != "zstd" {
		t.Fatalf("codec = %q, want zstd", codec)
	}
	got, err := DecodeProfile(codec, data)
	if err != nil {
		t.Fatalf("DecodeProfile: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, raw)
	}
}

func TestEncodeProfileUnknownCodec(t *testing.T) {
	if _, _, err := EncodeProfile("lz4", []byte("x")); err == nil {
		t.Fatalf("expected an error for an unknown profile codec")
	}
}
