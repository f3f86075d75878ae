// Package households manages nomination intake: a nominator drafts a
// household with its address, phones and children, submits it, and an
// administrator reviews it.
package households

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotDraft is returned when a submitted household is edited or submitted again.
	ErrNotDraft = errors.New("households: household already submitted")
	// ErrDraft is returned when a draft is reviewed.
	ErrDraft = errors.New("households: household not submitted")
)

// FieldError reports a rejected input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// PublicMessage implements the user-safe message contract used by httpx.
func (e *FieldError) PublicMessage() string {
	return e.Message
}

// Options lists the values accepted for enumerated household and child fields.
type Options struct {
	Races        []string `json:"race"`
	BikeSizes    []string `json:"bike_sizes"`
	ClothesSizes []string `json:"clothes_sizes"`
	BikeStyles   []string `json:"bike_styles"`
	Genders      []string `json:"genders"`
}

// DefaultOptions returns the option lists shipped with the application.
func DefaultOptions() Options {
	return Options{
		Races: []string{
			"American Indian",
			"Alaskan Native",
			"Asian",
			"African American",
			"Hispanic",
			"Pacific Islander",
			"White",
			"Other",
		},
		BikeSizes: []string{
			"Tricycle",
			"12” Bicycle",
			"16” Bicycle",
			"20” Coaster Brake Bicycle",
			"20” Geared Bicycle",
			"24” Geared Bicycle",
		},
		ClothesSizes: []string{"S", "M", "L"},
		BikeStyles:   []string{"Mountain", "BMX", "Tricycle"},
		Genders:      []string{"F", "M"},
	}
}

// Address is the single delivery address of a household.
type Address struct {
	Street  string `json:"street" validate:"required,max=255"`
	Street2 string `json:"street_2" validate:"max=255"`
	City    string `json:"city" validate:"required,max=255"`
	State   string `json:"state" validate:"required,max=255"`
	Zip     string `json:"zip" validate:"required,max=10"`
}

// Phone is one contact number. Numbers are stored in E.164 form.
type Phone struct {
	Type   string `json:"type" validate:"required,oneof=home work mobile"`
	Number string `json:"number" validate:"required,max=32"`
}

// Child is a nominated child of a household.
type Child struct {
	NameFirst        string  `json:"name_first" validate:"required,max=255"`
	NameMiddle       *string `json:"name_middle" validate:"omitempty,max=255"`
	NameLast         string  `json:"name_last" validate:"required,max=255"`
	DOB              string  `json:"dob" validate:"required,datetime=2006-01-02"`
	Gender           string  `json:"gender" validate:"required"`
	SchoolID         *int64  `json:"school_id" validate:"omitempty,gt=0"`
	BikeWant         bool    `json:"bike_want"`
	BikeSize         *string `json:"bike_size"`
	BikeStyle        *string `json:"bike_style"`
	ClothesWant      bool    `json:"clothes_want"`
	ClothesSizeShirt *string `json:"clothes_size_shirt"`
	ClothesSizePants *string `json:"clothes_size_pants"`
	ShoeSize         *string `json:"shoe_size" validate:"omitempty,max=16"`
	FavouriteColor   *string `json:"favourite_color" validate:"omitempty,max=64"`
	Interests        *string `json:"interests" validate:"omitempty,max=1000"`
	AdditionalIdeas  *string `json:"additional_ideas" validate:"omitempty,max=1000"`
}

// Household is a nomination. DOB, Email and Last4SSN are encrypted at rest.
type Household struct {
	ID                     int64      `json:"id"`
	NominatorID            int64      `json:"nominator_id"`
	NameFirst              string     `json:"name_first"`
	NameMiddle             *string    `json:"name_middle"`
	NameLast               string     `json:"name_last"`
	DOB                    string     `json:"dob"`
	Race                   *string    `json:"race"`
	Gender                 string     `json:"gender"`
	Email                  string     `json:"email"`
	Last4SSN               string     `json:"last4ssn"`
	PreferredContactMethod string     `json:"preferred_contact_method"`
	Draft                  bool       `json:"draft"`
	CaseNumber             *string    `json:"case_number"`
	NominationEmailSent    bool       `json:"nomination_email_sent"`
	Reviewed               bool       `json:"reviewed"`
	Approved               bool       `json:"approved"`
	Reason                 string     `json:"reason"`
	DeletedAt              *time.Time `json:"deleted_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`

	Address  *Address `json:"address"`
	Phones   []Phone  `json:"phones"`
	Children []Child  `json:"children"`
}

// NameFull joins first and last name with a single space.
func (h Household) NameFull() string {
	return h.NameFirst + " " + h.NameLast
}

// PhoneNumbers joins the phone numbers with ", ".
func (h Household) PhoneNumbers() string {
	numbers := make([]string, 0, len(h.Phones))
	for _, p := range h.Phones {
		numbers = append(numbers, p.Number)
	}
	return strings.Join(numbers, ", ")
}

// householdJSON adds the derived fields to the encoded household.
type householdJSON struct {
	Household
	NameFull     string `json:"name_full"`
	PhoneNumbers string `json:"phone_numbers"`
}

// View returns the household with its derived fields for encoding.
func (h Household) View() any {
	return householdJSON{Household: h, NameFull: h.NameFull(), PhoneNumbers: h.PhoneNumbers()}
}

// Input is the payload for creating or updating a draft household.
type Input struct {
	NameFirst              string   `json:"name_first" validate:"required,max=255"`
	NameMiddle             *string  `json:"name_middle" validate:"omitempty,max=255"`
	NameLast               string   `json:"name_last" validate:"required,max=255"`
	DOB                    string   `json:"dob" validate:"required,datetime=2006-01-02"`
	Race                   *string  `json:"race"`
	Gender                 string   `json:"gender" validate:"required"`
	Email                  string   `json:"email" validate:"required,email,max=255"`
	Last4SSN               string   `json:"last4ssn" validate:"required,len=4,numeric"`
	PreferredContactMethod string   `json:"preferred_contact_method" validate:"required,oneof=email phone text"`
	CaseNumber             *string  `json:"case_number" validate:"omitempty,max=64"`
	Address                *Address `json:"address" validate:"required"`
	Phones                 []Phone  `json:"phones" validate:"max=5,dive"`
	Children               []Child  `json:"children" validate:"max=20,dive"`
}

// ReviewInput is the administrator decision on a submitted household.
type ReviewInput struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason" validate:"max=1000"`
}

// Scope restricts which households a query may see.
type Scope struct {
	// NominatorID limits results to one nominator unless All is set.
	NominatorID int64
	All         bool
}

// check rejects enumerated values not present in opts.
func (opts Options) check(in Input) error {
	if in.Race != nil && *in.Race != "" && !slices.Contains(opts.Races, *in.Race) {
		return optionError("race", opts.Races)
	}
	if !slices.Contains(opts.Genders, in.Gender) {
		return optionError("gender", opts.Genders)
	}
	for i, c := range in.Children {
		prefix := fmt.Sprintf("children[%d].", i)
		if !slices.Contains(opts.Genders, c.Gender) {
			return optionError(prefix+"gender", opts.Genders)
		}
		if c.BikeWant {
			if c.BikeSize == nil || !slices.Contains(opts.BikeSizes, *c.BikeSize) {
				return optionError(prefix+"bike_size", opts.BikeSizes)
			}
			if c.BikeStyle == nil || !slices.Contains(opts.BikeStyles, *c.BikeStyle) {
				return optionError(prefix+"bike_style", opts.BikeStyles)
			}
		}
		if c.ClothesWant {
			if c.ClothesSizeShirt != nil && !slices.Contains(opts.ClothesSizes, *c.ClothesSizeShirt) {
				return optionError(prefix+"clothes_size_shirt", opts.ClothesSizes)
			}
			if c.ClothesSizePants != nil && !slices.Contains(opts.ClothesSizes, *c.ClothesSizePants) {
				return optionError(prefix+"clothes_size_pants", opts.ClothesSizes)
			}
		}
	}
	return nil
}

func optionError(field string, allowed []string) *FieldError {
	return &FieldError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
}
