// callsim replays a scripted inbound call against a locally running
// backend, acting as the telephony provider: it posts the initial voice
// webhook, walks the returned markup, answers Gather verbs from the
// digit script, and follows Redirects until the call hangs up.
package main

import (
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/velora-auto/trunkline/backend/internal/webhooks"
)

type simulator struct {
	backendURL string
	authToken  string
	publicBase string
	callID     string
	tenantID   string
	lineID     string
	from       string
	digits     []string
	http       *http.Client
	logger     zerolog.Logger
}

func main() {
	var (
		backendURL = flag.String("backend-url", "http://localhost:8080", "Backend URL")
		publicBase = flag.String("public-base", "http://localhost:8080", "PUBLIC_BASE_URL the backend was started with")
		tenantID   = flag.String("tenant", "dev-tenant", "Tenant ID")
		lineID     = flag.String("line", "main", "Phone line ID")
		from       = flag.String("from", "+15550001111", "Caller number")
		digits     = flag.String("digits", "", "Comma-separated digit entries for Gather prompts, in order")
		authToken  = flag.String("auth-token", "", "Provider auth token for request signing (empty: unsigned)")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "callsim").
		Logger()

	sim := &simulator{
		backendURL: strings.TrimSuffix(*backendURL, "/"),
		authToken:  *authToken,
		publicBase: strings.TrimSuffix(*publicBase, "/"),
		callID:     "SIM" + uuid.NewString(),
		tenantID:   *tenantID,
		lineID:     *lineID,
		from:       *from,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
	if *digits != "" {
		sim.digits = strings.Split(*digits, ",")
	}

	logger.Info().
		Str("call_id", sim.callID).
		Str("tenant", sim.tenantID).
		Str("line", sim.lineID).
		Msg("placing simulated call")

	if err := sim.run(); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}
	logger.Info().Msg("call ended")
}

// run drives the call from the initial voice webhook to hangup
func (s *simulator) run() error {
	voiceURL := fmt.Sprintf("%s/webhooks/voice?tenant=%s&line=%s",
		s.backendURL, url.QueryEscape(s.tenantID), url.QueryEscape(s.lineID))

	doc, err := s.post(voiceURL, url.Values{
		"CallSid":    {s.callID},
		"From":       {s.from},
		"CallStatus": {"ringing"},
	})
	if err != nil {
		return err
	}

	for i := 0; i < 50; i++ {
		next, done, err := s.walk(doc)
		if err != nil {
			return err
		}
		if done {
			return s.finalStatus(voiceURL)
		}
		if next == "" {
			s.logger.Warn().Msg("markup ended without Hangup or Redirect, treating as caller hangup")
			return s.finalStatus(voiceURL)
		}
		doc, err = s.post(next, url.Values{"CallSid": {s.callID}})
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("call did not terminate after 50 documents")
}

// walk interprets one markup document. It returns the URL of the next
// document to fetch, or done=true when the call hung up.
func (s *simulator) walk(doc []byte) (next string, done bool, err error) {
	dec := xml.NewDecoder(strings.NewReader(string(doc)))
	var gatherAction string
	inGather := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("bad markup: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Say":
				var text string
				_ = dec.DecodeElement(&text, &t)
				s.logger.Info().Str("say", strings.TrimSpace(text)).Msg("prompt")
			case "Play":
				var u string
				_ = dec.DecodeElement(&u, &t)
				s.logger.Info().Str("play", strings.TrimSpace(u)).Msg("prompt")
			case "Gather":
				gatherAction = attr(t, "action")
				inGather = true
			case "Redirect":
				var u string
				_ = dec.DecodeElement(&u, &t)
				return strings.TrimSpace(u), false, nil
			case "Dial":
				return s.joinConference(dec, &t)
			case "Record":
				return s.deliverRecording(attr(t, "action"))
			case "Hangup":
				return "", true, nil
			}
		case xml.EndElement:
			if t.Name.Local == "Gather" && inGather {
				if len(s.digits) > 0 {
					return s.answerGather(gatherAction)
				}
				inGather = false
			}
		}
	}
}

// answerGather posts the next scripted digit entry to the Gather action
func (s *simulator) answerGather(action string) (string, bool, error) {
	entry := s.digits[0]
	s.digits = s.digits[1:]
	s.logger.Info().Str("digits", entry).Msg("entering digits")

	doc, err := s.post(action, url.Values{
		"CallSid": {s.callID},
		"Digits":  {entry},
	})
	if err != nil {
		return "", false, err
	}
	return s.walk(doc)
}

// joinConference simulates the caller entering the conference and then
// leaving again after a short hold, since no real agent leg can answer
// in a simulated run
func (s *simulator) joinConference(dec *xml.Decoder, start *xml.StartElement) (string, bool, error) {
	var conf struct {
		Conference struct {
			StatusCallback string `xml:"statusCallback,attr"`
			Name           string `xml:",chardata"`
		} `xml:"Conference"`
	}
	if err := dec.DecodeElement(&conf, start); err != nil {
		return "", false, fmt.Errorf("bad Dial verb: %w", err)
	}
	name := strings.TrimSpace(conf.Conference.Name)
	s.logger.Info().Str("conference", name).Msg("caller joined conference")

	if conf.Conference.StatusCallback != "" {
		_, err := s.post(conf.Conference.StatusCallback, url.Values{
			"CallSid":             {s.callID},
			"ConferenceSid":       {"CFSIM" + uuid.NewString()},
			"FriendlyName":        {name},
			"StatusCallbackEvent": {"participant-join"},
		})
		if err != nil {
			return "", false, err
		}
	}

	// Nobody will answer; hang the caller up after a beat
	time.Sleep(2 * time.Second)
	s.logger.Info().Msg("caller gave up waiting in conference")
	return "", true, nil
}

// deliverRecording posts a fake recording result to the Record action
func (s *simulator) deliverRecording(action string) (string, bool, error) {
	s.logger.Info().Msg("recording a voicemail message")
	doc, err := s.post(action, url.Values{
		"CallSid":           {s.callID},
		"RecordingUrl":      {"https://provider.invalid/recordings/" + s.callID},
		"RecordingDuration": {"12.5"},
	})
	if err != nil {
		return "", false, err
	}
	return s.walk(doc)
}

// finalStatus delivers the caller leg's completed status callback
func (s *simulator) finalStatus(voiceURL string) error {
	_, err := s.post(voiceURL, url.Values{
		"CallSid":    {s.callID},
		"CallStatus": {"completed"},
	})
	return err
}

// post sends a signed form POST the way the provider would and returns
// the response body
func (s *simulator) post(rawURL string, form url.Values) ([]byte, error) {
	target := rawURL
	if strings.HasPrefix(target, s.publicBase) {
		// Callback URLs are built against PUBLIC_BASE_URL; rewrite them
		// onto the address we can actually reach
		target = s.backendURL + strings.TrimPrefix(target, s.publicBase)
	}

	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if s.authToken != "" {
		signedURL := s.publicBase + req.URL.RequestURI()
		req.Header.Set(webhooks.SignatureHeader, webhooks.ComputeSignature(s.authToken, signedURL, form))
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.logger.Debug().Str("url", req.URL.Path).Str("body", string(body)).Msg("webhook response")
	return body, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
