package learning

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Archive format: 8-byte magic + 4-byte LE uint32 uncompressed size +
// one lz4 block holding the JSON bundle. Same framing Mozilla uses for
// session files, so existing lz4 tooling can open it.
var archiveMagic = []byte("tgLearn\x00")

// Bundle is the complete learning record in portable form.
type Bundle struct {
	ExportedAt time.Time  `json:"exportedAt"`
	Config     Config     `json:"config"`
	Events     []Event    `json:"events"`
	Insights   []Insight  `json:"insights"`
	Revisions  []Revision `json:"revisions"`
}

// ExportBundle collects everything in the store.
func (s *Store) ExportBundle() (*Bundle, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	total, err := s.CountEvents()
	if err != nil {
		return nil, err
	}
	events, err := s.RecentEvents(total)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		ExportedAt: time.Now(),
		Config:     cfg,
		Events:     events,
	}
	for _, status := range []string{"pending", "accepted", "rejected"} {
		insights, err := s.InsightsByStatus(status)
		if err != nil {
			return nil, err
		}
		b.Insights = append(b.Insights, insights...)
		revisions, err := s.RevisionsByStatus(status)
		if err != nil {
			return nil, err
		}
		b.Revisions = append(b.Revisions, revisions...)
	}
	return b, nil
}

// Export writes the store's contents as a compressed archive.
func (s *Store) Export(w io.Writer) error {
	bundle, err := s.ExportBundle()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, dst)
	if err != nil {
		return fmt.Errorf("compress bundle: %w", err)
	}

	if _, err := w.Write(archiveMagic); err != nil {
		return err
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(raw)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err = w.Write(dst[:n])
	return err
}

// Import reads an archive written by Export and replaces the store's
// contents with it.
func (s *Store) Import(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	const headerSize = 12 // 8 magic + 4 size
	if len(data) < headerSize {
		return fmt.Errorf("archive too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(archiveMagic)], archiveMagic) {
		return fmt.Errorf("archive has invalid magic header")
	}

	uncompressedSize := binary.LittleEndian.Uint32(data[8:12])
	dst := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return fmt.Errorf("decompress archive: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(dst[:n], &bundle); err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}

	if err := s.ClearAll(); err != nil {
		return err
	}
	if err := s.SetConfig(bundle.Config); err != nil {
		return err
	}
	for _, ev := range bundle.Events {
		if err := s.InsertEvent(ev); err != nil {
			return err
		}
	}
	if err := s.InsertInsights(bundle.Insights); err != nil {
		return err
	}
	for _, rev := range bundle.Revisions {
		if err := s.InsertRevision(rev); err != nil {
			return err
		}
	}
	return nil
}
