package wrap

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/volta-zk/volta/recursion"
)

// wrapCircuit binds the aggregated proof's public values to the two digests
// external verifiers check. The key digest covers the reduce verifier key
// and the child key limbs already present in the public vector, so the
// program commitment and the reduce machine are both pinned.
type wrapCircuit struct {
	VKDigest frontend.Variable `gnark:",public"`
	PVDigest frontend.Variable `gnark:",public"`

	ReduceVK [16]frontend.Variable
	Publics  [recursion.NbPublics]frontend.Variable
}

func (c *wrapCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.ReduceVK[:]...)
	h.Write(c.Publics[recursion.NbPublics-16:]...)
	api.AssertIsEqual(c.VKDigest, h.Sum())

	h.Reset()
	h.Write(c.Publics[:]...)
	api.AssertIsEqual(c.PVDigest, h.Sum())
	return nil
}
