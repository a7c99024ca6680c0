package telephony

import (
	"encoding/xml"

	"patientbot/internal/session"
)

const (
	noInputRepeatLine = "I didn't hear you. Let me repeat that."
	noInputByeLine    = "Sorry, I didn't catch that. Goodbye."
)

type twimlResponse struct {
	XMLName  xml.Name  `xml:"Response"`
	Gather   *gather   `xml:"Gather,omitempty"`
	Says     []say     `xml:"Say"`
	Redirect *redirect `xml:"Redirect,omitempty"`
	Hangup   *struct{} `xml:"Hangup,omitempty"`
}

type gather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr"`
	Language      string `xml:"language,attr"`
	Say           say    `xml:"Say"`
}

type say struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type redirect struct {
	Method string `xml:"method,attr"`
	URL    string `xml:",chardata"`
}

// Speech holds the voice settings and callback URLs used in responses.
type Speech struct {
	Voice     string
	Language  string
	SpeechURL string
}

// opening speaks line and listens. Silence posts to the speech webhook with
// no SpeechResult, which ends the call.
func (sp Speech) opening(line string) twimlResponse {
	return twimlResponse{
		Gather:   sp.gather(line),
		Says:     []say{{Voice: sp.Voice, Text: noInputRepeatLine}},
		Redirect: &redirect{Method: "POST", URL: sp.SpeechURL},
	}
}

// reply speaks the patient's next line. Hangup replies end the call after
// speaking; otherwise silence ends the call.
func (sp Speech) reply(r session.Reply) twimlResponse {
	if r.Hangup {
		resp := twimlResponse{Hangup: &struct{}{}}
		if r.Line != "" {
			resp.Says = []say{{Voice: sp.Voice, Text: r.Line}}
		}
		return resp
	}
	return twimlResponse{
		Gather: sp.gather(r.Line),
		Says:   []say{{Voice: sp.Voice, Text: noInputByeLine}},
		Hangup: &struct{}{},
	}
}

func (sp Speech) gather(line string) *gather {
	return &gather{
		Input:         "speech",
		Action:        sp.SpeechURL,
		Method:        "POST",
		SpeechTimeout: "auto",
		Language:      sp.Language,
		Say:           say{Voice: sp.Voice, Text: line},
	}
}

func marshalTwiML(resp twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
