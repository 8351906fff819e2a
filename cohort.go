// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	log "github.com/sirupsen/logrus"
)

// patientData is the parsed form of the data types a command asked
// for. Data types that were not requested are nil.
type patientData struct {
	Barcode string
	CNV     IntervalSet
	RNA     map[string]float64
	Prot    map[string]float64
}

// patientOutcome is the result of preparing one patient: either Data
// is set, or Skip says why the patient was left out.
type patientOutcome struct {
	Patient *Patient
	Data    *patientData
	Skip    error
}

func (o patientOutcome) ok() bool {
	return o.Skip == nil && o.Data != nil
}

// extractPatient parses the requested data types. Any missing or
// unparseable data type makes the whole patient unusable.
func extractPatient(p *Patient, modalities []string) (*patientData, error) {
	d := &patientData{Barcode: p.Barcode}
	var err error
	for _, m := range modalities {
		switch m {
		case modalityCNV:
			d.CNV, err = p.CNVValues()
		case modalityRNA:
			d.RNA, err = p.GeneValues()
		case modalityProtein:
			d.Prot, err = p.ProtValues()
		}
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// collectOutcomes prepares every patient using up to threads
// goroutines. The returned slice is in the same order as patients.
func collectOutcomes(patients []*Patient, modalities []string, threads int) []patientOutcome {
	if threads < 1 {
		threads = 1
	}
	outcomes := make([]patientOutcome, len(patients))
	throttle := &throttle{Max: threads}
	for i, p := range patients {
		i, p := i, p
		throttle.Go(func() error {
			data, err := extractPatient(p, modalities)
			outcomes[i] = patientOutcome{Patient: p, Data: data, Skip: err}
			return nil
		})
	}
	throttle.Wait()
	return outcomes
}

// cohortTally counts patients used and skipped by a cohort-wide
// reduction.
type cohortTally struct {
	processed int
	skipped   int
}

func (t *cohortTally) skip(o patientOutcome) {
	t.skipped++
	log.Warnf("%s was skipped: %s", o.Patient.Barcode, o.Skip)
}
