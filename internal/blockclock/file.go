package blockclock

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// fileVersion is the leading byte of the on-disk binary shape written by
// encode, matching §6's ".blockclock" layout: version, network id,
// optional genesis timestamp, base block/timestamp, max block, optional
// max-block timestamp, then the run list. The version byte guards against
// a reader silently misparsing a future format.
const fileVersion = 1

// Open reads and decompresses a .blockclock file written by Flush.
func Open(path string) (*Clock, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blockclock: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("blockclock: zstd reader %s: %w", path, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("blockclock: decompress %s: %w", path, err)
	}

	return decode(raw)
}

// Flush writes the current series to path as a zstd-compressed stream. If
// debug is true, an uncompressed JSON sibling at path+".json" is also
// written for human inspection.
func (c *Clock) Flush(path string, debug bool) error {
	c.mu.RLock()
	raw := c.encode()
	c.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("blockclock: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("blockclock: zstd writer %s: %w", path, err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return fmt.Errorf("blockclock: write %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("blockclock: close zstd writer %s: %w", path, err)
	}

	if debug {
		return c.writeDebugJSON(path + ".json")
	}
	return nil
}

type debugDoc struct {
	NetworkID  int64   `json:"network_id"`
	GenesisTS  *uint64 `json:"genesis_ts,omitempty"`
	BaseBlock  uint64  `json:"base_block"`
	BaseTS     uint64  `json:"base_ts"`
	MaxBlock   uint64  `json:"max_block"`
	MaxBlockTS *uint64 `json:"max_block_ts,omitempty"`
	Runs       []Run   `json:"runs"`
}

func (c *Clock) writeDebugJSON(path string) error {
	c.mu.RLock()
	doc := debugDoc{
		NetworkID:  c.NetworkID,
		GenesisTS:  c.GenesisTS,
		BaseBlock:  c.BaseBlock,
		BaseTS:     c.BaseTS,
		MaxBlock:   c.MaxBlock,
		MaxBlockTS: c.MaxBlockTS,
		Runs:       c.Runs,
	}
	c.mu.RUnlock()

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("blockclock: marshal debug json: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func (c *Clock) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(fileVersion)
	binary.Write(&buf, binary.LittleEndian, c.NetworkID)

	writeOptionalU64(&buf, c.GenesisTS)
	binary.Write(&buf, binary.LittleEndian, c.BaseBlock)
	binary.Write(&buf, binary.LittleEndian, c.BaseTS)
	binary.Write(&buf, binary.LittleEndian, c.MaxBlock)
	writeOptionalU64(&buf, c.MaxBlockTS)

	binary.Write(&buf, binary.LittleEndian, uint64(len(c.Runs)))
	for _, r := range c.Runs {
		binary.Write(&buf, binary.LittleEndian, r.Len)
		binary.Write(&buf, binary.LittleEndian, r.Delta)
	}
	return buf.Bytes()
}

func decode(raw []byte) (*Clock, error) {
	buf := bytes.NewReader(raw)

	version, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("blockclock: empty file")
	}
	if version != fileVersion {
		return nil, fmt.Errorf("blockclock: unsupported file version %d (reader supports %d)", version, fileVersion)
	}

	c := &Clock{}
	if err := binary.Read(buf, binary.LittleEndian, &c.NetworkID); err != nil {
		return nil, fmt.Errorf("blockclock: read network id: %w", err)
	}

	c.GenesisTS, err = readOptionalU64(buf)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &c.BaseBlock); err != nil {
		return nil, fmt.Errorf("blockclock: read base block: %w", err)
	}
	if err := binary.Read(buf, binary.LittleEndian, &c.BaseTS); err != nil {
		return nil, fmt.Errorf("blockclock: read base ts: %w", err)
	}
	c.hasBase = true
	if err := binary.Read(buf, binary.LittleEndian, &c.MaxBlock); err != nil {
		return nil, fmt.Errorf("blockclock: read max block: %w", err)
	}
	c.MaxBlockTS, err = readOptionalU64(buf)
	if err != nil {
		return nil, err
	}

	var numRuns uint64
	if err := binary.Read(buf, binary.LittleEndian, &numRuns); err != nil {
		return nil, fmt.Errorf("blockclock: read run count: %w", err)
	}
	c.Runs = make([]Run, numRuns)
	for i := range c.Runs {
		if err := binary.Read(buf, binary.LittleEndian, &c.Runs[i].Len); err != nil {
			return nil, fmt.Errorf("blockclock: read run %d len: %w", i, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &c.Runs[i].Delta); err != nil {
			return nil, fmt.Errorf("blockclock: read run %d delta: %w", i, err)
		}
	}

	c.rebuildIndex()
	return c, nil
}

// rebuildIndex reconstructs the checkpoint index after a load, since the
// on-disk format stores only runs, not the derived index.
func (c *Clock) rebuildIndex() {
	bnum, t := c.BaseBlock, c.BaseTS
	for i, r := range c.Runs {
		prevBnum := bnum
		t = uint64(int64(t) + r.Delta*int64(r.Len))
		bnum += r.Len
		if bnum/INDEX_INTERVAL > prevBnum/INDEX_INTERVAL {
			c.index = append(c.index, checkpoint{block: bnum, runIdx: i + 1, ts: t})
		}
	}
}

func writeOptionalU64(buf *bytes.Buffer, v *uint64) {
	if v == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	binary.Write(buf, binary.LittleEndian, *v)
}

func readOptionalU64(buf *bytes.Reader) (*uint64, error) {
	present, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("blockclock: read optional flag: %w", err)
	}
	if present == 0 {
		return nil, nil
	}
	var v uint64
	if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
		return nil, fmt.Errorf("blockclock: read optional value: %w", err)
	}
	return &v, nil
}
