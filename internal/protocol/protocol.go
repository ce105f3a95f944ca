// Package protocol defines the grandMA2 web remote JSON messages exchanged
// over the console WebSocket.
package protocol

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

type RequestType string

const (
	RequestLogin     RequestType = "login"
	RequestGetData   RequestType = "getdata"
	RequestUserInput RequestType = "playbacks_userInput"
	RequestPlaybacks RequestType = "playbacks"
)

const (
	StatusServerReady = "server ready"

	ResponseLogin     = "login"
	ResponsePlaybacks = "playbacks"

	// DataClasses is the state scope requested by every getdata cycle.
	DataClasses = "set,clear,solo,high"
)

// SubType distinguishes playbacks responses.
type SubType int

const (
	SubTypeFader  SubType = 2
	SubTypeButton SubType = 3
)

// Login is sent in answer to a forced login.
type Login struct {
	RequestType RequestType `json:"requestType"`
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	Session     int         `json:"session"`
	MaxRequests int         `json:"maxRequests"`
}

// SessionEcho carries only the session token. It doubles as handshake
// opener ({session:0}) and keep-alive.
type SessionEcho struct {
	Session int `json:"session"`
}

type GetData struct {
	RequestType RequestType `json:"requestType"`
	Data        string      `json:"data"`
	Session     int         `json:"session"`
	MaxRequests int         `json:"maxRequests"`
}

// ButtonInput presses an executor button.
type ButtonInput struct {
	RequestType RequestType `json:"requestType"`
	Cmdline     string      `json:"cmdline"`
	ExecIndex   int         `json:"execIndex"`
	PageIndex   int         `json:"pageIndex"`
	ButtonID    int         `json:"buttonId"`
	Pressed     bool        `json:"pressed"`
	Released    bool        `json:"released"`
	Type        int         `json:"type"`
	Session     int         `json:"session"`
	MaxRequests int         `json:"maxRequests"`
}

// FaderInput moves an executor fader to a normalized 0..1 position.
type FaderInput struct {
	RequestType RequestType `json:"requestType"`
	ExecIndex   int         `json:"execIndex"`
	PageIndex   int         `json:"pageIndex"`
	FaderValue  float64     `json:"faderValue"`
	Type        int         `json:"type"`
	Session     int         `json:"session"`
	MaxRequests int         `json:"maxRequests"`
}

// PlaybacksRequest asks the console for the state of a block of
// executors; the answer is a playbacks response with a matching sub type.
type PlaybacksRequest struct {
	RequestType        RequestType `json:"requestType"`
	StartIndex         []int       `json:"startIndex"`
	ItemsCount         []int       `json:"itemsCount"`
	PageIndex          int         `json:"pageIndex"`
	ItemsType          []SubType   `json:"itemsType"`
	View               SubType     `json:"view"`
	ExecButtonViewMode int         `json:"execButtonViewMode"`
	ButtonsViewMode    int         `json:"buttonsViewMode"`
	Session            int         `json:"session"`
	MaxRequests        int         `json:"maxRequests"`
}

func NewLogin(username, password string, session, quota int) Login {
	return Login{
		RequestType: RequestLogin,
		Username:    username,
		Password:    HashPassword(password),
		Session:     session,
		MaxRequests: quota,
	}
}

func NewGetData(session, quota int) GetData {
	return GetData{
		RequestType: RequestGetData,
		Data:        DataClasses,
		Session:     session,
		MaxRequests: quota,
	}
}

func NewButtonPress(exec, page, session int) ButtonInput {
	return ButtonInput{
		RequestType: RequestUserInput,
		ExecIndex:   exec,
		PageIndex:   page,
		Pressed:     true,
		Session:     session,
	}
}

func NewFaderMove(exec, page int, value float64, session int) FaderInput {
	return FaderInput{
		RequestType: RequestUserInput,
		ExecIndex:   exec,
		PageIndex:   page,
		FaderValue:  value,
		Type:        1,
		Session:     session,
	}
}

// NewPlaybacks requests count executors starting at start (zero based).
func NewPlaybacks(kind SubType, start, count, page, session int) PlaybacksRequest {
	mode := 1
	if kind == SubTypeButton {
		mode = 2
	}
	return PlaybacksRequest{
		RequestType:        RequestPlaybacks,
		StartIndex:         []int{start},
		ItemsCount:         []int{count},
		PageIndex:          page,
		ItemsType:          []SubType{kind},
		View:               kind,
		ExecButtonViewMode: mode,
		Session:            session,
		MaxRequests:        1,
	}
}

// HashPassword returns the MD5 hex digest the web remote expects in
// place of the plaintext password.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Inbound is any message received from the console. Every field is
// optional; pointer fields distinguish absent from zero.
type Inbound struct {
	Status                  string          `json:"status,omitempty"`
	ForceLogin              bool            `json:"forceLogin,omitempty"`
	ResponseType            string          `json:"responseType,omitempty"`
	ResponseSubType         SubType         `json:"responseSubType,omitempty"`
	Result                  *bool           `json:"result,omitempty"`
	ConnectionsLimitReached json.RawMessage `json:"connections_limit_reached,omitempty"`
	Session                 *int            `json:"session,omitempty"`
	Text                    string          `json:"text,omitempty"`
	ItemGroups              []ItemGroup     `json:"itemGroups,omitempty"`
}

// ItemGroup is one block of executors in a playbacks response, laid out
// as rows of items.
type ItemGroup struct {
	ItemsType SubType  `json:"itemsType"`
	Items     [][]Item `json:"items"`
}

// Item is the state of one executor.
type Item struct {
	ExecIndex int `json:"iExec"`
	IsRun     int `json:"isRun"`
}

func (i Item) Running() bool { return i.IsRun != 0 }

// Executors flattens every item of every group.
func (m *Inbound) Executors() []Item {
	var out []Item
	for _, g := range m.ItemGroups {
		for _, row := range g.Items {
			out = append(out, row...)
		}
	}
	return out
}

func (m *Inbound) LoginSucceeded() bool {
	return m.ResponseType == ResponseLogin && m.Result != nil && *m.Result
}

func (m *Inbound) LoginFailed() bool {
	return m.ResponseType == ResponseLogin && m.Result != nil && !*m.Result
}

// LimitReached reports whether connections_limit_reached was present,
// whatever its value.
func (m *Inbound) LimitReached() bool {
	return m.ConnectionsLimitReached != nil
}

// ErrNotObject is returned by Decode for valid JSON that is not an object.
var ErrNotObject = errors.New("protocol: message is not a JSON object")

// Decode parses one text frame.
func Decode(data []byte) (*Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if json.Valid(trimmed) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("protocol: invalid JSON")
	}
	var msg Inbound
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	return &msg, nil
}
