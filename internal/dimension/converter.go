package dimension

// Converter implements §4.8's KeyConverter: for every slot in a destination
// DimensionSet, it precomputes the offset of the same-named dimension in a
// source DimensionSet (or "unmapped"), so that many keys can be converted
// without repeating the name lookups.
type Converter struct {
	dst *DimensionSet
	src *DimensionSet

	// srcSlot[i] is the offset in src of the dimension sharing dst.At(i)'s
	// name, or -1 if src has no such dimension.
	srcSlot []int
}

// NewConverter precomputes the slot mapping from src to dst.
func NewConverter(dst, src *DimensionSet) *Converter {
	slots := make([]int, dst.Len())

	for i := 0; i < dst.Len(); i++ {
		off, err := src.OffsetOf(dst.At(i).Name())
		if err != nil {
			slots[i] = -1
			continue
		}

		slots[i] = off
	}

	return &Converter{dst: dst, src: src, srcSlot: slots}
}

// Convert produces a key under c.dst equivalent to srcKey (which must be a
// key under c.src). Unmapped destination slots are set to Wildcard;
// mapped slots resolve the source's string value through the destination
// dimension's IndexOf, allocating a new index there if needed.
func (c *Converter) Convert(srcKey Key) (Key, error) {
	out := make([]uint32, c.dst.Len())

	for i, slot := range c.srcSlot {
		if slot < 0 {
			out[i] = Wildcard
			continue
		}

		srcDim := c.src.At(slot)
		value := srcDim.StringAt(srcKey.At(slot))

		idx, err := c.dst.At(i).IndexOf(value)
		if err != nil {
			return Key{}, err
		}

		out[i] = idx
	}

	return Key{values: out}, nil
}
