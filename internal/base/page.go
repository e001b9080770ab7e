package base

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	PageSize = 4096

	LeafPageFlag   uint16 = 0x01
	BranchPageFlag uint16 = 0x02

	// PageHeaderSize: ID(8) + Flags(2) + NumKeys(2) + Version(8) + Checksum(8) + Reserved(4)
	PageHeaderSize    = 32
	LeafElementSize   = 12
	BranchElementSize = 16

	// MagicNumber for file format identification ("verd" in hex)
	MagicNumber uint32 = 0x76657264

	FormatVersion uint16 = 1

	idOffset       = 0
	flagsOffset    = 8
	numKeysOffset  = 10
	versionOffset  = 12
	checksumOffset = 20
)

type PageID uint64

// Page is a raw disk page (4096 bytes).
//
// LEAF PAGE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (32 bytes)                                                   │
// │ ID, Flags, NumKeys, Version, Checksum                               │
// ├─────────────────────────────────────────────────────────────────────┤
// │ LeafElement[0..N-1] (12 bytes each)                                 │
// │ KeyOffset, KeySize, ValueOffset, ValueSize                          │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data Area (packed from end backward):                               │
// │   ← key[0] | value[0] | key[1] | value[1] | ...                     │
// │   Elements grow forward →              Data grows backward ←        │
// └─────────────────────────────────────────────────────────────────────┘
//
// BRANCH PAGE LAYOUT:
// ┌─────────────────────────────────────────────────────────────────────┐
// │ Header (32 bytes)                                                   │
// ├─────────────────────────────────────────────────────────────────────┤
// │ BranchElement[0..N-1] (16 bytes each)                               │
// │ KeyOffset, KeySize, Reserved, ChildID                               │
// ├─────────────────────────────────────────────────────────────────────┤
// │ Data Area (keys, packed from end backward, last 8 bytes reserved)   │
// ├─────────────────────────────────────────────────────────────────────┤
// │ FirstChild (last 8 bytes) - Children[0]                             │
// │ BranchElement[0..N-1].ChildID stores Children[1..N]                 │
// └─────────────────────────────────────────────────────────────────────┘
type Page struct {
	Data [PageSize]byte
}

// PageHeader holds the decoded fixed header of a page.
type PageHeader struct {
	ID       PageID
	Flags    uint16
	NumKeys  uint16
	Version  uint64
	Checksum uint64
}

func (p *Page) Header() PageHeader {
	return PageHeader{
		ID:       PageID(binary.LittleEndian.Uint64(p.Data[idOffset:])),
		Flags:    binary.LittleEndian.Uint16(p.Data[flagsOffset:]),
		NumKeys:  binary.LittleEndian.Uint16(p.Data[numKeysOffset:]),
		Version:  binary.LittleEndian.Uint64(p.Data[versionOffset:]),
		Checksum: binary.LittleEndian.Uint64(p.Data[checksumOffset:]),
	}
}

func (p *Page) writeHeader(h PageHeader) {
	binary.LittleEndian.PutUint64(p.Data[idOffset:], uint64(h.ID))
	binary.LittleEndian.PutUint16(p.Data[flagsOffset:], h.Flags)
	binary.LittleEndian.PutUint16(p.Data[numKeysOffset:], h.NumKeys)
	binary.LittleEndian.PutUint64(p.Data[versionOffset:], h.Version)
	binary.LittleEndian.PutUint64(p.Data[checksumOffset:], h.Checksum)
}

// checksum hashes the whole page with the checksum field zeroed.
func (p *Page) checksum() uint64 {
	d := xxhash.New()
	_, _ = d.Write(p.Data[:checksumOffset])
	var zero [8]byte
	_, _ = d.Write(zero[:])
	_, _ = d.Write(p.Data[checksumOffset+8:])
	return d.Sum64()
}

// UpdateChecksum recomputes and stores the page checksum.
func (p *Page) UpdateChecksum() {
	binary.LittleEndian.PutUint64(p.Data[checksumOffset:], p.checksum())
}

// VerifyChecksum returns ErrInvalidChecksum if the stored checksum does not
// match the page contents.
func (p *Page) VerifyChecksum() error {
	stored := binary.LittleEndian.Uint64(p.Data[checksumOffset:])
	if stored != p.checksum() {
		return ErrInvalidChecksum
	}
	return nil
}

// Meta is the database metadata stored in pages 0 and 1.
// The page for a given commit alternates on Version so a torn meta write
// never destroys the previous valid meta.
type Meta struct {
	Magic         uint32
	FormatVersion uint16
	PageSize      uint32
	RootID        PageID // 0 means the tree is empty
	Version       uint64 // last committed version
	NumPages      uint64
	Checksum      uint64
}

const metaSize = 48

// MetaChecksum hashes all meta fields except the checksum itself.
func (m *Meta) MetaChecksum() uint64 {
	var buf [metaSize - 8]byte
	m.encodeBody(buf[:])
	return xxhash.Sum64(buf[:])
}

func (m *Meta) encodeBody(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], m.Magic)
	binary.LittleEndian.PutUint16(buf[4:], m.FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:], m.PageSize)
	binary.LittleEndian.PutUint64(buf[16:], uint64(m.RootID))
	binary.LittleEndian.PutUint64(buf[24:], m.Version)
	binary.LittleEndian.PutUint64(buf[32:], m.NumPages)
}

// WriteMeta encodes the meta into a page.
func (p *Page) WriteMeta(m *Meta) {
	clear(p.Data[:])
	m.encodeBody(p.Data[:metaSize-8])
	binary.LittleEndian.PutUint64(p.Data[metaSize-8:], m.Checksum)
}

// ReadMeta decodes a meta page.
func (p *Page) ReadMeta() Meta {
	return Meta{
		Magic:         binary.LittleEndian.Uint32(p.Data[0:]),
		FormatVersion: binary.LittleEndian.Uint16(p.Data[4:]),
		PageSize:      binary.LittleEndian.Uint32(p.Data[8:]),
		RootID:        PageID(binary.LittleEndian.Uint64(p.Data[16:])),
		Version:       binary.LittleEndian.Uint64(p.Data[24:]),
		NumPages:      binary.LittleEndian.Uint64(p.Data[32:]),
		Checksum:      binary.LittleEndian.Uint64(p.Data[40:]),
	}
}

// Validate checks magic, format version, page size, and checksum.
func (m *Meta) Validate() error {
	if m.Magic != MagicNumber {
		return ErrInvalidMagicNumber
	}
	if m.FormatVersion != FormatVersion {
		return ErrInvalidVersion
	}
	if m.PageSize != PageSize {
		return ErrInvalidPageSize
	}
	if m.Checksum != m.MetaChecksum() {
		return ErrInvalidChecksum
	}
	return nil
}
