// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"strings"

	"gopkg.in/check.v1"
)

// 1-based inclusive GTF coordinates. GENEA has two versions, GENEB
// has two records at the same version, GENEC only appears in an
// excluded source, and GENED only as a transcript.
const testGTF = `1	ensembl_havana	gene	11	20	.	+	.	gene_id "ENSG0001"; gene_version "1"; gene_name "GENEA";
1	ensembl_havana	gene	31	40	.	+	.	gene_id "ENSG0001"; gene_version "2"; gene_name "GENEA";
1	ensembl_havana	gene	101	200	.	-	.	gene_id "ENSG0002"; gene_version "2"; gene_name "GENEB";
2	ensembl_havana	gene	101	300	.	-	.	gene_id "ENSG0002"; gene_version "2"; gene_name "GENEB";
1	havana	gene	501	600	.	+	.	gene_id "ENSG0003"; gene_version "1"; gene_name "GENEC";
1	ensembl_havana	transcript	701	800	.	+	.	gene_id "ENSG0004"; gene_version "1"; gene_name "GENED";
2	ensembl_havana	gene	1	50	.	+	.	gene_id "ENSG0005"; gene_version "3"; gene_name "GENEE";
`

func loadTestAnnotation(c *check.C) *AnnotationIndex {
	idx, err := LoadAnnotation(strings.NewReader(testGTF), "gene", []string{"ensembl_havana"})
	c.Assert(err, check.IsNil)
	return idx
}

type annotationSuite struct{}

var _ = check.Suite(&annotationSuite{})

func (s *annotationSuite) TestHighestVersionWins(c *check.C) {
	idx := loadTestAnnotation(c)
	c.Check(idx.Records("GENEA"), check.HasLen, 2)
	rec, ok := idx.Resolve("GENEA")
	c.Check(ok, check.Equals, true)
	c.Check(rec.Version, check.Equals, 2)
	c.Check(rec.Chromosome, check.Equals, "1")
	c.Check(rec.Start, check.Equals, 30)
	c.Check(rec.Stop, check.Equals, 40)

	byID, ok := idx.Resolve("ENSG0001")
	c.Check(ok, check.Equals, true)
	c.Check(byID, check.DeepEquals, rec)
}

func (s *annotationSuite) TestTieIsUnresolved(c *check.C) {
	idx := loadTestAnnotation(c)
	c.Check(idx.Records("GENEB"), check.HasLen, 2)
	_, ok := idx.Resolve("GENEB")
	c.Check(ok, check.Equals, false)
}

func (s *annotationSuite) TestFilters(c *check.C) {
	idx := loadTestAnnotation(c)
	_, ok := idx.Resolve("GENEC")
	c.Check(ok, check.Equals, false)
	_, ok = idx.Resolve("GENED")
	c.Check(ok, check.Equals, false)
	_, ok = idx.Resolve("NOSUCHGENE")
	c.Check(ok, check.Equals, false)
	rec, ok := idx.Resolve("GENEE")
	c.Check(ok, check.Equals, true)
	c.Check(rec.Source, check.Equals, "ensembl_havana")
	c.Check(rec.Feature, check.Equals, "gene")

	idx, err := LoadAnnotation(strings.NewReader(testGTF), "gene", []string{"ensembl_havana", "havana"})
	c.Assert(err, check.IsNil)
	_, ok = idx.Resolve("GENEC")
	c.Check(ok, check.Equals, true)
}

func (s *annotationSuite) TestMalformedVersion(c *check.C) {
	_, err := LoadAnnotation(strings.NewReader(`1	ensembl_havana	gene	1	5	.	+	.	gene_id "ENSG9"; gene_version "x"; gene_name "G9";
`), "gene", []string{"ensembl_havana"})
	c.Check(err, check.ErrorMatches, `annotation record ENSG9 at 1:1-5: gene_version: .*`)

	_, err = LoadAnnotation(strings.NewReader(`1	ensembl_havana	gene	1	5	.	+	.	gene_id "ENSG9"; gene_name "G9";
`), "gene", []string{"ensembl_havana"})
	c.Check(err, check.ErrorMatches, `annotation record ENSG9 at 1:1-5 has no gene_version`)
}

func (s *annotationSuite) TestInMemoryIndex(c *check.C) {
	idx := NewAnnotationIndex([]AnnotationRecord{
		{Chromosome: "3", Start: 0, Stop: 10, GeneID: "G1", GeneName: "G1", Version: 1},
		{Chromosome: "3", Start: 20, Stop: 30, GeneName: "G2", Version: 5},
	})
	c.Check(idx.Len(), check.Equals, 2)
	c.Check(idx.Records("G1"), check.HasLen, 1)
	rec, ok := idx.Resolve("G2")
	c.Check(ok, check.Equals, true)
	c.Check(rec.Start, check.Equals, 20)
}
