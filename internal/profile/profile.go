package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"tapit-auth/internal/auth"
)

// DefaultTheme is applied to every new profile.
const DefaultTheme = "Lake White"

// DefaultAccountType is the plan of a new profile.
const DefaultAccountType = "free"

// Profile is the application record of one identity, stored as a single
// JSON document keyed by the identity id. Field names match the stored
// document so partial updates can address them directly.
type Profile struct {
	// Required.
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"displayName"`
	Username      string    `json:"username"`
	Links         []Link    `json:"links"`
	SelectedTheme string    `json:"selectedTheme"`
	CreatedAt     time.Time `json:"createdAt"`

	// Optional.
	PhotoURL  string     `json:"photoURL,omitempty"`
	Bio       string     `json:"bio,omitempty"`
	Language  string     `json:"language,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	FontType        int    `json:"fontType,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	BtnColor        string `json:"btnColor,omitempty"`
	BtnFontColor    string `json:"btnFontColor,omitempty"`
	ThemeFontColor  string `json:"themeFontColor,omitempty"`

	Socials        []Social `json:"socials,omitempty"`
	SocialPosition int      `json:"socialPosition,omitempty"`

	SensitiveStatus     bool `json:"sensitiveStatus,omitempty"`
	SensitiveType       int  `json:"sensitivetype,omitempty"`
	SupportBannerStatus bool `json:"supportBannerStatus,omitempty"`

	MetaData *MetaData `json:"metaData,omitempty"`

	AccountType   string  `json:"accountType"`
	IsTeamManager bool    `json:"isTeamManager"`
	TeamID        *string `json:"teamId"`
	TeamRole      *string `json:"teamRole"`
	ManagerUserID *string `json:"managerUserId"`
}

type Link struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Type     int    `json:"type"`
	IsActive bool   `json:"isActive"`
}

type Social struct {
	ID     string `json:"id"`
	Type   int    `json:"type"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// MetaData is the search-engine metadata of the public page.
type MetaData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Field names used across packages.
const (
	FieldDisplayName = "displayName"
	FieldUsername    = "username"
	FieldBio         = "bio"
	FieldLinks       = "links"
	FieldTheme       = "selectedTheme"
	FieldMetaData    = "metaData"
	FieldUpdatedAt   = "updatedAt"
)

// mutableFields lists the top-level fields a patch may address.
var mutableFields = map[string]struct{}{
	"displayName":         {},
	"username":            {},
	"links":               {},
	"selectedTheme":       {},
	"photoURL":            {},
	"bio":                 {},
	"language":            {},
	"fontType":            {},
	"backgroundColor":     {},
	"btnColor":            {},
	"btnFontColor":        {},
	"themeFontColor":      {},
	"socials":             {},
	"socialPosition":      {},
	"sensitiveStatus":     {},
	"sensitivetype":       {},
	"supportBannerStatus": {},
	"metaData":            {},
	"accountType":         {},
	"isTeamManager":       {},
	"teamId":              {},
	"teamRole":            {},
	"managerUserId":       {},
}

// IsField reports whether name is a patchable profile field.
func IsField(name string) bool {
	_, ok := mutableFields[name]
	return ok
}

// Patch is a partial update keyed by top-level field name.
type Patch map[string]any

// Validate checks every key is a patchable field and every value decodes
// into the field's declared type. It returns the patch as JSON.
func (p Patch) Validate() ([]byte, error) {
	if len(p) == 0 {
		return nil, &Error{Code: CodeInvalidField, Op: "validate", Err: fmt.Errorf("empty patch")}
	}
	for k := range p {
		if !IsField(k) {
			return nil, &Error{Code: CodeInvalidField, Op: "validate", Err: fmt.Errorf("unknown or read-only field %q", k)}
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, &Error{Code: CodeInvalidField, Op: "validate", Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var check Profile
	if err := dec.Decode(&check); err != nil {
		return nil, &Error{Code: CodeInvalidField, Op: "validate", Err: err}
	}

	if v, ok := p[FieldUsername]; ok {
		h, _ := v.(string)
		if h == "" || NormalizeHandle(h) != h {
			return nil, &Error{Code: CodeInvalidField, Op: "validate", Err: fmt.Errorf("username must be lower-case letters and digits")}
		}
	}

	return raw, nil
}

// NewDefault builds the first profile of identity.
func NewDefault(identity *auth.Identity, now time.Time) *Profile {
	displayName := identity.DisplayName
	if displayName == "" {
		displayName = emailLocalPart(identity.Email)
	}

	return &Profile{
		UID:           identity.ID,
		Email:         identity.Email,
		DisplayName:   displayName,
		Username:      DeriveHandle(identity),
		PhotoURL:      identity.PhotoURL,
		Links:         []Link{},
		SelectedTheme: DefaultTheme,
		CreatedAt:     now.UTC(),
		AccountType:   DefaultAccountType,
	}
}

// Public is the subset of a profile shown on its public page.
type Public struct {
	Username        string    `json:"username"`
	DisplayName     string    `json:"displayName"`
	PhotoURL        string    `json:"photoURL,omitempty"`
	Bio             string    `json:"bio,omitempty"`
	Links           []Link    `json:"links"`
	Socials         []Social  `json:"socials,omitempty"`
	SocialPosition  int       `json:"socialPosition,omitempty"`
	SelectedTheme   string    `json:"selectedTheme"`
	FontType        int       `json:"fontType,omitempty"`
	BackgroundColor string    `json:"backgroundColor,omitempty"`
	BtnColor        string    `json:"btnColor,omitempty"`
	BtnFontColor    string    `json:"btnFontColor,omitempty"`
	ThemeFontColor  string    `json:"themeFontColor,omitempty"`
	SensitiveStatus bool      `json:"sensitiveStatus,omitempty"`
	SensitiveType   int       `json:"sensitivetype,omitempty"`
	MetaData        *MetaData `json:"metaData,omitempty"`
}

// Public drops account fields and inactive links.
func (p *Profile) Public() Public {
	links := make([]Link, 0, len(p.Links))
	for _, l := range p.Links {
		if l.IsActive {
			links = append(links, l)
		}
	}
	return Public{
		Username:        p.Username,
		DisplayName:     p.DisplayName,
		PhotoURL:        p.PhotoURL,
		Bio:             p.Bio,
		Links:           links,
		Socials:         p.Socials,
		SocialPosition:  p.SocialPosition,
		SelectedTheme:   p.SelectedTheme,
		FontType:        p.FontType,
		BackgroundColor: p.BackgroundColor,
		BtnColor:        p.BtnColor,
		BtnFontColor:    p.BtnFontColor,
		ThemeFontColor:  p.ThemeFontColor,
		SensitiveStatus: p.SensitiveStatus,
		SensitiveType:   p.SensitiveType,
		MetaData:        p.MetaData,
	}
}

// FieldValue returns the JSON encoding of one top-level field.
func (p *Profile) FieldValue(field string) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	v, ok := doc[field]
	if !ok {
		return json.RawMessage("null"), nil
	}
	return v, nil
}
