// Package e2e provides end-to-end tests that build a corpus from raw files,
// index it and query it through the engine.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/shirabe/internal/corpus"
)

// E2EDocument is one raw unit of the E2E corpus. Name is the file stem; the
// corpus builder orders units by file name, so Name decides the record id.
type E2EDocument struct {
	Name    string
	Content string
}

// QueryTestCase defines a query and the record id(s) that must appear in
// the top results.
type QueryTestCase struct {
	Query          string
	ExpectedDocIDs []string
	Description    string
}

// Corpus holds documents and query test cases for E2E tests.
type Corpus struct {
	Documents    []E2EDocument
	TestCases    []QueryTestCase
	TotalDocs    int
	TotalQueries int
}

type topic struct {
	slug    string
	phrase  string
	content string
}

var topics = []topic{
	{"beamforming", "phased array beamforming", "Phased array beamforming steers a radio lobe electronically. Phased array beamforming weights each antenna element."},
	{"ofdm", "orthogonal frequency subcarriers", "OFDM splits a channel into orthogonal frequency subcarriers. Orthogonal frequency subcarriers resist multipath fading."},
	{"lidar", "lidar point cloud", "Lidar measures distance with pulsed lasers. A lidar point cloud maps terrain and obstacles."},
	{"superconductor", "superconducting critical temperature", "Superconductors lose all resistance. The superconducting critical temperature limits practical magnets."},
	{"photonics", "silicon photonics waveguide", "Silicon photonics routes light on chip. A silicon photonics waveguide confines infrared modes."},
	{"interferometry", "michelson interferometer fringes", "A Michelson interferometer splits a beam in two. Michelson interferometer fringes reveal path differences."},
	{"fatigue", "metal fatigue cracks", "Cyclic loading causes metal fatigue. Metal fatigue cracks grow from surface defects."},
	{"composites", "carbon fiber laminate", "Composites combine fibers and resin. A carbon fiber laminate is stiff and light."},
	{"corrosion", "galvanic corrosion anode", "Dissimilar metals in an electrolyte corrode. Galvanic corrosion anode loss starts at the less noble metal."},
	{"thinfilm", "sputtered thin film deposition", "Vacuum coating builds layers atom by atom. Sputtered thin film deposition controls thickness precisely."},
	{"gears", "planetary gear train", "Planetary gearboxes are compact. A planetary gear train shares load across several planets."},
	{"bearings", "rolling element bearings", "Bearings support rotating shafts. Rolling element bearings reduce friction with balls or rollers."},
	{"turbulence", "turbulent boundary layer", "Viscous flow near a wall slows down. A turbulent boundary layer mixes momentum vigorously."},
	{"heattransfer", "convective heat exchanger", "Heat moves from hot fluid to cold fluid. A convective heat exchanger maximizes surface area."},
	{"garbagecollection", "garbage collector pauses", "Managed runtimes reclaim memory automatically. Garbage collector pauses hurt tail latency."},
	{"consensus", "raft consensus leader", "Replicated logs need agreement. Raft consensus leader election uses randomized timeouts."},
	{"compilers", "register allocation graph coloring", "Compilers map variables to registers. Register allocation graph coloring spills when colors run out."},
	{"databases", "btree page splits", "Ordered indexes store keys in pages. Btree page splits keep the tree balanced."},
	{"cryptography", "elliptic curve signatures", "Public key systems sign messages. Elliptic curve signatures use small keys."},
	{"scheduling", "kernel thread scheduler", "Operating systems share cores between threads. The kernel thread scheduler balances fairness and latency."},
	{"batteries", "lithium ion cathode", "Rechargeable cells shuttle ions. The lithium ion cathode sets voltage and capacity."},
	{"solar", "perovskite solar cells", "Thin absorbers convert sunlight cheaply. Perovskite solar cells reach high efficiency quickly."},
	{"fusion", "tokamak plasma confinement", "Fusion needs hot dense plasma. Tokamak plasma confinement uses toroidal magnetic fields."},
	{"seismology", "seismic wave propagation", "Earthquakes release elastic energy. Seismic wave propagation reveals the planet interior."},
	{"genomics", "genome sequencing reads", "DNA is read in fragments. Genome sequencing reads are assembled into contigs."},
	{"proteins", "protein folding energy", "Chains of amino acids fold into shapes. Protein folding energy landscapes guide the native state."},
	{"neuroscience", "action potential neurons", "Nerve cells signal electrically. Action potential neurons fire spikes along their axons."},
	{"climate", "ocean heat uptake", "Most excess warming enters the sea. Ocean heat uptake slows surface temperature rise."},
	{"robotics", "inverse kinematics manipulator", "Robot arms must reach target poses. Inverse kinematics manipulator solvers compute joint angles."},
	{"control", "pid controller tuning", "Feedback loops correct errors. PID controller tuning trades overshoot against settling time."},
	{"acoustics", "room reverberation time", "Sound reflects from walls. Room reverberation time depends on absorption."},
	{"astronomy", "exoplanet transit photometry", "Planets dim their stars when crossing. Exoplanet transit photometry measures tiny brightness dips."},
}

// BuildCorpus returns one document per topic and one query per document.
// Each query is the document's signature phrase.
func BuildCorpus() *Corpus {
	docs := make([]E2EDocument, len(topics))
	cases := make([]QueryTestCase, len(topics))
	for i, t := range topics {
		docs[i] = E2EDocument{
			Name:    fmt.Sprintf("%03d-%s", i+1, t.slug),
			Content: t.content,
		}
		id := corpus.RecordID(i + 1)
		cases[i] = QueryTestCase{
			Query:          t.phrase,
			ExpectedDocIDs: []string{id},
			Description:    fmt.Sprintf("query %q should return %s", t.phrase, id),
		}
	}
	return &Corpus{
		Documents:    docs,
		TestCases:    cases,
		TotalDocs:    len(docs),
		TotalQueries: len(cases),
	}
}

// WriteRaw writes every document into dir. extFor picks the file extension
// for document i.
func (c *Corpus) WriteRaw(dir string, extFor func(i int) string) error {
	for i, d := range c.Documents {
		ext := extFor(i)
		content, err := WriteMinimalFile(ext, d.Content)
		if err != nil {
			return fmt.Errorf("build %s%s: %w", d.Name, ext, err)
		}
		if err := os.WriteFile(filepath.Join(dir, d.Name+ext), content, 0644); err != nil {
			return err
		}
	}
	return nil
}

func containsPhrase(d E2EDocument, phrase string) bool {
	return strings.Contains(strings.ToLower(d.Content), strings.ToLower(phrase))
}
