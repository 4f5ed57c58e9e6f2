package patient

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an outpatient visit.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	return s == StatusWaiting || s == StatusCompleted
}

// Redirection is the department a patient is routed to at admission.
type Redirection string

const (
	RedirectionObstetrics Redirection = "obstetrics"
	RedirectionGynecology Redirection = "gynecology"
)

func (r Redirection) Valid() bool {
	return r == RedirectionObstetrics || r == RedirectionGynecology
}

// DepartmentFromString maps a free-text department to a Redirection.
// Only "gynecology" (any case) routes to gynecology; everything else,
// including blanks, lands in obstetrics.
func DepartmentFromString(s string) Redirection {
	if strings.EqualFold(strings.TrimSpace(s), string(RedirectionGynecology)) {
		return RedirectionGynecology
	}
	return RedirectionObstetrics
}

// Severity grades jaundice and pedal edema.
type Severity string

const (
	SeverityAbsent Severity = "absent"
	SeverityMild   Severity = "mild"
	SeveritySevere Severity = "severe"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityAbsent, SeverityMild, SeveritySevere:
		return true
	}
	return false
}

// Details holds demographic and intake data captured at the front desk.
type Details struct {
	Age        *int       `bson:"age,omitempty" json:"age,omitempty"`
	Gender     string     `bson:"gender,omitempty" json:"gender,omitempty"`
	BloodGroup string     `bson:"bloodGroup,omitempty" json:"bloodGroup,omitempty"`
	Phone      string     `bson:"phone,omitempty" json:"phone,omitempty"`
	LMP        *time.Time `bson:"lmp,omitempty" json:"lmp,omitempty"`
	OpIpNo     string     `bson:"opIpNo,omitempty" json:"opIpNo,omitempty"`
}

// Analysis holds free-form symptom flags recorded by the doctor.
type Analysis struct {
	StomachPain        string `bson:"stomachPain,omitempty" json:"stomachPain,omitempty"`
	LegSwelling        string `bson:"legSwelling,omitempty" json:"legSwelling,omitempty"`
	BackPain           string `bson:"backPain,omitempty" json:"backPain,omitempty"`
	BabyMovement       string `bson:"babyMovement,omitempty" json:"babyMovement,omitempty"`
	Nausea             string `bson:"nausea,omitempty" json:"nausea,omitempty"`
	SleepCycle         string `bson:"sleepCycle,omitempty" json:"sleepCycle,omitempty"`
	UrinationFrequency string `bson:"urinationFrequency,omitempty" json:"urinationFrequency,omitempty"`
}

type MaternalHealth struct {
	TTCompleted      *int       `bson:"ttCompleted,omitempty" json:"ttCompleted,omitempty"`
	ThyroidHistory   string     `bson:"thyroidHistory,omitempty" json:"thyroidHistory,omitempty"`
	GestationalAge   *int       `bson:"gestationalAge,omitempty" json:"gestationalAge,omitempty"` // weeks
	DueDate          *time.Time `bson:"dueDate,omitempty" json:"dueDate,omitempty"`
	PlacentaPosition string     `bson:"placentaPosition,omitempty" json:"placentaPosition,omitempty"`
}

type PreviousBaby struct {
	DeliveryType  string     `bson:"deliveryType,omitempty" json:"deliveryType,omitempty"`
	BabyWeight    string     `bson:"babyWeight,omitempty" json:"babyWeight,omitempty"`
	Complications string     `bson:"complications,omitempty" json:"complications,omitempty"`
	BirthDate     *time.Time `bson:"birthDate,omitempty" json:"birthDate,omitempty"`
	Gender        string     `bson:"gender,omitempty" json:"gender,omitempty"`
}

type FamilyHistory struct {
	Diabetes         string `bson:"diabetes,omitempty" json:"diabetes,omitempty"`
	Hypertension     string `bson:"hypertension,omitempty" json:"hypertension,omitempty"`
	Thyroid          string `bson:"thyroid,omitempty" json:"thyroid,omitempty"`
	Twins            string `bson:"twins,omitempty" json:"twins,omitempty"`
	GeneticDisorders string `bson:"geneticDisorders,omitempty" json:"geneticDisorders,omitempty"`
	Other            string `bson:"other,omitempty" json:"other,omitempty"`
}

// Reading is one entry in a parameter's time series.
type Reading struct {
	Date  time.Time        `bson:"date" json:"date"`
	Value MeasurementValue `bson:"value" json:"value"`
	Unit  string           `bson:"unit,omitempty" json:"unit,omitempty"`
	Note  string           `bson:"note,omitempty" json:"note,omitempty"`
}

// Parameter is the append-only history of one measurement type.
type Parameter struct {
	Type   string    `bson:"type" json:"type"`
	Values []Reading `bson:"values" json:"values"`
}

type Note struct {
	Date            time.Time `bson:"date" json:"date"`
	Content         string    `bson:"content" json:"content"`
	ImportantPoints []string  `bson:"importantPoints" json:"importantPoints"`
}

// Patient is one admission/clinical record. Field names and nesting are
// shared with existing documents in the patients collection.
type Patient struct {
	ID          string      `bson:"-" json:"id"`
	SlNo        int         `bson:"slNo" json:"slNo"`
	UHINo       string      `bson:"uhiNo" json:"uhiNo"`
	PatientName string      `bson:"patientName" json:"patientName"`
	Redirection Redirection `bson:"redirection" json:"redirection"`
	Status      Status      `bson:"status" json:"status"`

	Details        *Details        `bson:"details,omitempty" json:"details,omitempty"`
	Analysis       *Analysis       `bson:"analysis,omitempty" json:"analysis,omitempty"`
	MaternalHealth *MaternalHealth `bson:"maternalHealth,omitempty" json:"maternalHealth,omitempty"`
	PreviousBaby   *PreviousBaby   `bson:"previousBaby,omitempty" json:"previousBaby,omitempty"`
	FamilyHistory  *FamilyHistory  `bson:"familyHistory,omitempty" json:"familyHistory,omitempty"`

	Temperature      string     `bson:"temperature,omitempty" json:"temperature,omitempty"`
	RespiratoryRate  string     `bson:"respiratoryRate,omitempty" json:"respiratoryRate,omitempty"`
	OxygenSaturation string     `bson:"oxygenSaturation,omitempty" json:"oxygenSaturation,omitempty"`
	Jaundice         Severity   `bson:"jaundice" json:"jaundice"`
	Feet             Severity   `bson:"feet" json:"feet"`
	Weight           string     `bson:"weight,omitempty" json:"weight,omitempty"`
	VisitDate        *time.Time `bson:"visitDate,omitempty" json:"visitDate,omitempty"`

	Parameters []Parameter `bson:"parameters" json:"parameters"`
	Notes      []Note      `bson:"notes" json:"notes"`
	Summary    string      `bson:"summary,omitempty" json:"summary,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Parameter returns the series for the given type, or nil.
func (p *Patient) Parameter(paramType string) *Parameter {
	for i := range p.Parameters {
		if p.Parameters[i].Type == paramType {
			return &p.Parameters[i]
		}
	}
	return nil
}

// ApplyVitals overwrites every vitals field from v.
func (p *Patient) ApplyVitals(v Vitals) {
	p.Temperature = v.Temperature
	p.RespiratoryRate = v.RespiratoryRate
	p.OxygenSaturation = v.OxygenSaturation
	p.Jaundice = v.Jaundice
	p.Feet = v.Feet
	p.Weight = v.Weight
	p.VisitDate = v.VisitDate
}

// AppendReading adds r to the series for paramType, creating it if needed.
func (p *Patient) AppendReading(paramType string, r Reading) {
	if param := p.Parameter(paramType); param != nil {
		param.Values = append(param.Values, r)
		return
	}
	p.Parameters = append(p.Parameters, Parameter{Type: paramType, Values: []Reading{r}})
}

// ApplyIntake replaces the sub-records present in in.
func (p *Patient) ApplyIntake(in Intake) {
	if in.Details != nil {
		p.Details = in.Details
	}
	if in.Analysis != nil {
		p.Analysis = in.Analysis
	}
	if in.MaternalHealth != nil {
		p.MaternalHealth = in.MaternalHealth
	}
	if in.PreviousBaby != nil {
		p.PreviousBaby = in.PreviousBaby
	}
	if in.FamilyHistory != nil {
		p.FamilyHistory = in.FamilyHistory
	}
}

// NewPatient is the admission payload.
type NewPatient struct {
	UHINo       string      `json:"uhiNo"`
	PatientName string      `json:"patientName"`
	Redirection Redirection `json:"redirection"`
}

// Vitals is the fixed set of per-visit measurements. Saving vitals replaces
// all of them at once.
type Vitals struct {
	Temperature      string     `json:"temperature"`
	RespiratoryRate  string     `json:"respiratoryRate"`
	OxygenSaturation string     `json:"oxygenSaturation"`
	Jaundice         Severity   `json:"jaundice"`
	Feet             Severity   `json:"feet"`
	Weight           string     `json:"weight"`
	VisitDate        *time.Time `json:"visitDate,omitempty"`
}

// VitalsOf extracts the current vitals from a record.
func VitalsOf(p *Patient) Vitals {
	return Vitals{
		Temperature:      p.Temperature,
		RespiratoryRate:  p.RespiratoryRate,
		OxygenSaturation: p.OxygenSaturation,
		Jaundice:         p.Jaundice,
		Feet:             p.Feet,
		Weight:           p.Weight,
		VisitDate:        p.VisitDate,
	}
}

// Measurement is a raw parameter reading as entered by the user.
type Measurement struct {
	Type  string     `json:"parameterType"`
	Value string     `json:"value"`
	Unit  string     `json:"unit,omitempty"`
	Note  string     `json:"note,omitempty"`
	Date  *time.Time `json:"date,omitempty"`
}

// Intake carries optional sub-record replacements. Nil members are left as is.
type Intake struct {
	Details        *Details        `json:"details,omitempty"`
	Analysis       *Analysis       `json:"analysis,omitempty"`
	MaternalHealth *MaternalHealth `json:"maternalHealth,omitempty"`
	PreviousBaby   *PreviousBaby   `json:"previousBaby,omitempty"`
	FamilyHistory  *FamilyHistory  `json:"familyHistory,omitempty"`
}

func (in Intake) Empty() bool {
	return in.Details == nil && in.Analysis == nil && in.MaternalHealth == nil &&
		in.PreviousBaby == nil && in.FamilyHistory == nil
}

// ListedPatient is a record annotated with its position in a listing.
// DisplaySeq is recomputed on every read and need not match SlNo.
type ListedPatient struct {
	*Patient
	DisplaySeq int `json:"displaySeq"`
}

// BulkRow is one spreadsheet row fed to bulk creation.
type BulkRow struct {
	UHINo      string `json:"uhino"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

type BulkOutcome string

const (
	BulkSuccess BulkOutcome = "success"
	BulkPartial BulkOutcome = "partial"
	BulkFailed  BulkOutcome = "failed"
)

type BulkRowError struct {
	Row     int       `json:"row"`
	UHINo   string    `json:"uhiNo,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type BulkResult struct {
	Outcome       BulkOutcome    `json:"outcome"`
	InsertedCount int            `json:"insertedCount"`
	FailedCount   int            `json:"failedCount"`
	Inserted      []*Patient     `json:"inserted"`
	Errors        []BulkRowError `json:"errors"`
}
