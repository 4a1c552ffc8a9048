package types

// Payload is the submitted content of a contribution. The engine stores it
// verbatim and never validates it.
type Payload struct {
	Name         string   `json:"name,omitempty"`
	LatinName    string   `json:"latin_name,omitempty"`
	GeneticsType string   `json:"genetics_type,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	References   []string `json:"references,omitempty"`
	Images       []string `json:"images,omitempty"`
}

func (p Payload) Clone() Payload {
	out := p
	out.Aliases = cloneStrings(p.Aliases)
	out.References = cloneStrings(p.References)
	out.Images = cloneStrings(p.Images)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
