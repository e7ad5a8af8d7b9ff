package communication

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ScanRangeInlineThreshold is the number of scan ranges above which
// EncodeScanRanges compresses the assignment instead of leaving it inline.
// A real RPC transport would serialize ScanRanges regardless; a fragment
// with many small ranges (a highly-partitioned scan) is exactly the case
// where compressing the wire form pays off.
const ScanRangeInlineThreshold = 8

func countScanRanges(ranges PerNodeScanRanges) int {
	n := 0
	for _, rs := range ranges {
		n += len(rs)
	}
	return n
}

// EncodeScanRanges fills either ScanRanges or (ScanRangesEncoded,
// ScanRangesCodec) on params, whichever is appropriate for the size of
// ranges.
func EncodeScanRanges(params *ExecPlanFragmentParams, ranges PerNodeScanRanges) error {
	if countScanRanges(ranges) <= ScanRangeInlineThreshold {
		params.ScanRanges = ranges
		params.ScanRangesEncoded = nil
		params.ScanRangesCodec = ""
		return nil
	}
	raw, err := json.Marshal(ranges)
	if err != nil {
		return fmt.Errorf("encode scan ranges: %w", err)
	}
	params.ScanRanges = nil
	params.ScanRangesEncoded = snappy.Encode(nil, raw)
	params.ScanRangesCodec = "snappy"
	return nil
}

// DecodeScanRanges recovers the scan-range assignment a worker was handed,
// regardless of whether the coordinator inlined or compressed it.
func DecodeScanRanges(params *ExecPlanFragmentParams) (PerNodeScanRanges, error) {
	if params.ScanRangesEncoded == nil {
		return params.ScanRanges, nil
	}
	switch params.ScanRangesCodec {
	case "snappy":
		raw, err := snappy.Decode(nil, params.ScanRangesEncoded)
		if err != nil {
			return nil, fmt.Errorf("decode scan ranges: %w", err)
		}
		var ranges PerNodeScanRanges
		if err := json.Unmarshal(raw, &ranges); err != nil {
			return nil, fmt.Errorf("decode scan ranges: %w", err)
		}
		return ranges, nil
	default:
		return nil, fmt.Errorf("decode scan ranges: unknown codec %q", params.ScanRangesCodec)
	}
}

// EncodeProfile compresses a serialized profile snapshot with the codec
// named by QueryOptions.ProfileCompression ("" leaves it uncompressed).
func EncodeProfile(codec string, raw []byte) (data []byte, usedCodec string, err error) {
	switch codec {
	case "", "none":
		return raw, "", nil
	case "snappy":
		return snappy.Encode(nil, raw), "snappy", nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, "", fmt.Errorf("encode profile: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), "zstd", nil
	default:
		return nil, "", fmt.Errorf("encode profile: unknown codec %q", codec)
	}
}

// DecodeProfile reverses EncodeProfile given the codec a report says it
// used.
func DecodeProfile(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "":
		return data, nil
	case "snappy":
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return raw, nil
	case "zstd":
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		defer dec.Close()
		raw, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("decode profile: unknown codec %q", codec)
	}
}
