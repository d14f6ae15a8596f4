package consultant

// Consultant selects which assistant tab a chat belongs to. Only the
// introductory greeting differs between consultants.
type Consultant struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Greeting    string   `json:"greeting"`
	VoiceID     string   `json:"voiceId,omitempty"`
	Description string   `json:"description,omitempty"`
	Expertise   []string `json:"expertise,omitempty"` // 专业领域
}

const (
	Carbon = "carbon"
	ESG    = "esg"
)

// Seed provides the two consultants exposed as chat tabs.
func Seed() []Consultant {
	return []Consultant{
		{
			ID:    Carbon,
			Name:  "Carbeez",
			Title: "Carbon Consultant",
			Greeting: "Hello! I'm Carbeez, your carbon accounting assistant. 🌱\n\n" +
				"I can help you with:\n" +
				"• Understanding Scope 1, 2 and 3 emissions\n" +
				"• Applying the GHG Protocol to your organisation\n" +
				"• Choosing emission factors and calculation methods\n" +
				"• Setting reduction targets and tracking progress\n\n" +
				"What would you like to know about your carbon footprint?",
			VoiceID:     "en-US-Neural2-F",
			Description: "Answers greenhouse-gas accounting questions for organisations and individuals.",
			Expertise:   []string{"GHG Protocol", "Scope 1-3 emissions", "emission factors", "reduction targets"},
		},
		{
			ID:    ESG,
			Name:  "Carbeez",
			Title: "ESG Consultant",
			Greeting: "Hello! I'm Carbeez, your ESG reporting assistant. 🌍\n\n" +
				"I can help you with:\n" +
				"• Environmental disclosures and climate reporting frameworks\n" +
				"• How greenhouse-gas inventories feed ESG ratings\n" +
				"• Preparing data for CSRD, ISSB and CDP submissions\n" +
				"• Building a credible decarbonisation narrative\n\n" +
				"What ESG topic can I help you with today?",
			VoiceID:     "en-US-Neural2-D",
			Description: "Guides ESG reporting with a focus on the climate pillar.",
			Expertise:   []string{"CSRD", "ISSB", "CDP", "climate disclosure"},
		},
	}
}
