package profile

// UserProfile is the single per-user record edited from the profile screens.
type UserProfile struct {
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email"`
	Age          int    `json:"age,omitempty" validate:"omitempty,gte=0,lte=150"`
	Address      string `json:"address,omitempty" validate:"max=500"`
	Job          string `json:"job,omitempty" validate:"max=120"`
	Company      string `json:"company,omitempty" validate:"max=120"`
	Details      string `json:"details,omitempty" validate:"max=2000"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

// Public returns a copy safe to send to clients.
func (p UserProfile) Public() UserProfile {
	p.PasswordHash = ""
	return p
}

// Update carries the editable fields; nil means unchanged.
type Update struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=120"`
	Age     *int    `json:"age" validate:"omitempty,gte=0,lte=150"`
	Address *string `json:"address" validate:"omitempty,max=500"`
	Job     *string `json:"job" validate:"omitempty,max=120"`
	Company *string `json:"company" validate:"omitempty,max=120"`
	Details *string `json:"details" validate:"omitempty,max=2000"`
}

// Apply copies the set fields of u onto p.
func (u Update) Apply(p *UserProfile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Age != nil {
		p.Age = *u.Age
	}
	if u.Address != nil {
		p.Address = *u.Address
	}
	if u.Job != nil {
		p.Job = *u.Job
	}
	if u.Company != nil {
		p.Company = *u.Company
	}
	if u.Details != nil {
		p.Details = *u.Details
	}
}

// PremiumStatus is a locally trusted flag; there is no entitlement check.
type PremiumStatus struct {
	Premium bool `json:"premium"`
}
