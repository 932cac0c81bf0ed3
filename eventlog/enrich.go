package eventlog

import (
	"encoding/hex"
	"fmt"

	"steelcitybridge.dev/frame"
)

// enrich attaches data.amg when data.hex or data.payload decodes as a
// 14-byte timer frame, so logs are readable without a separate decoder.
// Decode failures are non-fatal: the raw record is written unchanged.
func enrich(rec Record) {
	data, ok := rec["data"].(Record)
	if !ok {
		return
	}
	raw, ok := hexField(data)
	if !ok {
		return
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return
	}
	tm, err := frame.DecodeTimer(b)
	if err != nil {
		return
	}
	shot := frame.DecodeShot(tm)
	data["amg"] = Record{
		"shot_idx": int(shot.ShotIndex),
		"T_s":      shot.T,
		"split_s":  shot.Split,
		"first_s":  shot.First,
		"tail_hex": fmt.Sprintf("0x%02x", shot.Tail),
		"raw_hex":  raw,
	}
}

func hexField(data Record) (string, bool) {
	if s, ok := data["hex"].(string); ok && s != "" {
		return s, true
	}
	if s, ok := data["payload"].(string); ok && s != "" {
		return s, true
	}
	return "", false
}
