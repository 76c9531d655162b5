package chips

// All returns the chips of the machine in canonical order. The order is part
// of the verifier key: commitments, openings and the lookup argument all walk
// it. The byte chip must come last because its main trace is the multiplicity
// count of every lookup the other chips logged while generating theirs.
func All() []Chip {
	return []Chip{
		NewProgramChip(),
		NewProgramMemoryChip(),
		NewMemoryInitChip(),
		NewMemoryFinalChip(),
		NewCpuChip(),
		NewAddSubChip(),
		NewMulChip(),
		NewDivRemChip(),
		NewBitwiseChip(),
		NewLtChip(),
		NewShiftLeftChip(),
		NewShiftRightChip(),
		NewShaExtendChip(),
		NewShaCompressChip(),
		NewKeccakPermuteChip(),
		NewBlake3CompressChip(),
		NewFieldOpChip(),
		NewByteChip(),
	}
}
