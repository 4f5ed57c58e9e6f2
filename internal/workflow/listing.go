package workflow

import "github.com/fl1X12/doctor-side-sub000/internal/domain/patient"

// The helpers below never modify their input, so slices handed out in a
// State snapshot stay valid.

func sameRecord(a, b *patient.Patient) bool {
	if a == nil || b == nil {
		return false
	}
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.UHINo == b.UHINo
}

// upsert replaces the entry for p or appends it.
func upsert(list []patient.ListedPatient, p *patient.Patient) []patient.ListedPatient {
	out := make([]patient.ListedPatient, 0, len(list)+1)
	found := false
	for _, lp := range list {
		if sameRecord(lp.Patient, p) {
			lp.Patient = p
			found = true
		}
		out = append(out, lp)
	}
	if !found {
		out = append(out, patient.ListedPatient{Patient: p})
	}
	return renumber(out)
}

// replace swaps in p only if the listing already has it.
func replace(list []patient.ListedPatient, p *patient.Patient) []patient.ListedPatient {
	out := make([]patient.ListedPatient, len(list))
	for i, lp := range list {
		if sameRecord(lp.Patient, p) {
			lp.Patient = p
		}
		out[i] = lp
	}
	return out
}

func remove(list []patient.ListedPatient, p *patient.Patient) []patient.ListedPatient {
	out := make([]patient.ListedPatient, 0, len(list))
	for _, lp := range list {
		if !sameRecord(lp.Patient, p) {
			out = append(out, lp)
		}
	}
	return renumber(out)
}

// renumber assigns display positions 1..n, as the server does on listing.
func renumber(list []patient.ListedPatient) []patient.ListedPatient {
	for i := range list {
		list[i].DisplaySeq = i + 1
	}
	return list
}
