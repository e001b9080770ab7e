package base

import "encoding/binary"

// Node is a decoded B-tree node. Nodes loaded through the cache are shared
// between transactions and must be treated as immutable; writers clone before
// mutating (copy-on-write).
type Node struct {
	ID    PageID
	Dirty bool

	IsLeaf   bool
	Keys     [][]byte
	Values   [][]byte // unused in branch nodes
	Children []PageID // unused in leaf nodes, len(Keys)+1 otherwise
}

// Clone returns a copy suitable for copy-on-write mutation. The outer slices
// are copied; the per-entry byte slices are shared and treated as immutable.
func (n *Node) Clone() *Node {
	c := &Node{
		ID:     n.ID,
		IsLeaf: n.IsLeaf,
	}
	c.Keys = append([][]byte(nil), n.Keys...)
	if n.IsLeaf {
		c.Values = append([][]byte(nil), n.Values...)
	} else {
		c.Children = append([]PageID(nil), n.Children...)
	}
	return c
}

// SerializedSize returns the number of bytes the node occupies on a page.
func (n *Node) SerializedSize() int {
	size := PageHeaderSize
	if n.IsLeaf {
		size += len(n.Keys) * LeafElementSize
		for i := range n.Keys {
			size += len(n.Keys[i]) + len(n.Values[i])
		}
	} else {
		size += len(n.Keys) * BranchElementSize
		size += 8 // Children[0]
		for i := range n.Keys {
			size += len(n.Keys[i])
		}
	}
	return size
}

// Serialize encodes the node into a fresh page stamped with the committing
// version. The checksum is left for the pager to fill in.
func (n *Node) Serialize(version uint64) (*Page, error) {
	if n.SerializedSize() > PageSize {
		return nil, ErrPageOverflow
	}

	page := &Page{}
	h := PageHeader{
		ID:      n.ID,
		NumKeys: uint16(len(n.Keys)),
		Version: version,
	}
	if n.IsLeaf {
		h.Flags = LeafPageFlag
	} else {
		h.Flags = BranchPageFlag
	}
	page.writeHeader(h)

	if n.IsLeaf {
		// Pack keys and values from the end backward
		dataOffset := uint16(PageSize)
		for i := len(n.Keys) - 1; i >= 0; i-- {
			key, value := n.Keys[i], n.Values[i]

			dataOffset -= uint16(len(value))
			copy(page.Data[dataOffset:], value)
			valueOffset := dataOffset

			dataOffset -= uint16(len(key))
			copy(page.Data[dataOffset:], key)

			elem := PageHeaderSize + i*LeafElementSize
			binary.LittleEndian.PutUint16(page.Data[elem:], dataOffset)
			binary.LittleEndian.PutUint16(page.Data[elem+2:], uint16(len(key)))
			binary.LittleEndian.PutUint16(page.Data[elem+4:], valueOffset)
			binary.LittleEndian.PutUint16(page.Data[elem+6:], uint16(len(value)))
		}
	} else {
		// Children[0] lives in the last 8 bytes
		binary.LittleEndian.PutUint64(page.Data[PageSize-8:], uint64(n.Children[0]))

		dataOffset := uint16(PageSize - 8)
		for i := len(n.Keys) - 1; i >= 0; i-- {
			key := n.Keys[i]

			dataOffset -= uint16(len(key))
			copy(page.Data[dataOffset:], key)

			elem := PageHeaderSize + i*BranchElementSize
			binary.LittleEndian.PutUint16(page.Data[elem:], dataOffset)
			binary.LittleEndian.PutUint16(page.Data[elem+2:], uint16(len(key)))
			binary.LittleEndian.PutUint64(page.Data[elem+8:], uint64(n.Children[i+1]))
		}
	}

	return page, nil
}

// Deserialize decodes a page into the node, copying all keys and values out
// of the page buffer.
func (n *Node) Deserialize(page *Page) error {
	h := page.Header()

	n.ID = h.ID
	n.Dirty = false
	n.IsLeaf = h.Flags == LeafPageFlag
	numKeys := int(h.NumKeys)

	n.Keys = make([][]byte, numKeys)
	if n.IsLeaf {
		n.Values = make([][]byte, numKeys)
		n.Children = nil
		for i := 0; i < numKeys; i++ {
			elem := PageHeaderSize + i*LeafElementSize
			keyOffset := binary.LittleEndian.Uint16(page.Data[elem:])
			keySize := binary.LittleEndian.Uint16(page.Data[elem+2:])
			valueOffset := binary.LittleEndian.Uint16(page.Data[elem+4:])
			valueSize := binary.LittleEndian.Uint16(page.Data[elem+6:])

			n.Keys[i] = append([]byte(nil), page.Data[keyOffset:keyOffset+keySize]...)
			n.Values[i] = append([]byte(nil), page.Data[valueOffset:valueOffset+valueSize]...)
		}
	} else {
		n.Values = nil
		n.Children = make([]PageID, numKeys+1)
		n.Children[0] = PageID(binary.LittleEndian.Uint64(page.Data[PageSize-8:]))
		for i := 0; i < numKeys; i++ {
			elem := PageHeaderSize + i*BranchElementSize
			keyOffset := binary.LittleEndian.Uint16(page.Data[elem:])
			keySize := binary.LittleEndian.Uint16(page.Data[elem+2:])

			n.Keys[i] = append([]byte(nil), page.Data[keyOffset:keyOffset+keySize]...)
			n.Children[i+1] = PageID(binary.LittleEndian.Uint64(page.Data[elem+8:]))
		}
	}

	return nil
}
