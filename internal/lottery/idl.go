package lottery

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

//go:embed idl/lottery_dapp.json
var embeddedIDL []byte

// AccountDef is one account slot of an instruction, in wire order.
type AccountDef struct {
	Name     string
	Writable bool
	Signer   bool
}

// ArgDef is one Borsh-encoded instruction argument.
type ArgDef struct {
	Name string
	Type string
}

// InstructionDef describes a program method.
type InstructionDef struct {
	Name     string
	Accounts []AccountDef
	Args     []ArgDef
}

// ProgramError is a custom error the program can raise.
type ProgramError struct {
	Code int
	Name string
	Msg  string
}

// IDL is a parsed Anchor interface description.
type IDL struct {
	raw          gjson.Result
	name         string
	instructions map[string]InstructionDef
	errors       map[int]ProgramError
}

// DefaultIDL returns the interface description compiled into the binary.
func DefaultIDL() *IDL {
	idl, err := ParseIDL(embeddedIDL)
	if err != nil {
		panic(fmt.Sprintf("embedded IDL: %v", err))
	}
	return idl
}

// LoadIDL reads an IDL file, or returns the embedded one when path is empty.
func LoadIDL(path string) (*IDL, error) {
	if path == "" {
		return DefaultIDL(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read IDL: %w", err)
	}
	return ParseIDL(data)
}

// ParseIDL validates and indexes an IDL document.
func ParseIDL(data []byte) (*IDL, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("IDL is not valid JSON")
	}
	raw := gjson.ParseBytes(data)
	idl := &IDL{
		raw:          raw,
		name:         raw.Get("name").String(),
		instructions: make(map[string]InstructionDef),
		errors:       make(map[int]ProgramError),
	}

	for _, ix := range raw.Get("instructions").Array() {
		def := InstructionDef{Name: ix.Get("name").String()}
		if def.Name == "" {
			return nil, fmt.Errorf("IDL instruction without name")
		}
		for _, acct := range ix.Get("accounts").Array() {
			def.Accounts = append(def.Accounts, AccountDef{
				Name:     acct.Get("name").String(),
				Writable: acct.Get("isMut").Bool(),
				Signer:   acct.Get("isSigner").Bool(),
			})
		}
		for _, arg := range ix.Get("args").Array() {
			def.Args = append(def.Args, ArgDef{
				Name: arg.Get("name").String(),
				Type: arg.Get("type").String(),
			})
		}
		idl.instructions[def.Name] = def
	}
	if len(idl.instructions) == 0 {
		return nil, fmt.Errorf("IDL declares no instructions")
	}

	for _, e := range raw.Get("errors").Array() {
		pe := ProgramError{
			Code: int(e.Get("code").Int()),
			Name: e.Get("name").String(),
			Msg:  e.Get("msg").String(),
		}
		idl.errors[pe.Code] = pe
	}
	return idl, nil
}

// Name returns the program name.
func (i *IDL) Name() string { return i.name }

// Instruction looks up a method by its IDL (camelCase) name.
func (i *IDL) Instruction(name string) (InstructionDef, error) {
	def, ok := i.instructions[name]
	if !ok {
		return InstructionDef{}, fmt.Errorf("unknown instruction %q", name)
	}
	return def, nil
}

// HasAccount reports whether the IDL declares an account type called name.
func (i *IDL) HasAccount(name string) bool {
	return i.raw.Get(fmt.Sprintf(`accounts.#(name==%q)`, name)).Exists()
}

// ErrorByCode returns the program error registered under code.
func (i *IDL) ErrorByCode(code int) (ProgramError, bool) {
	pe, ok := i.errors[code]
	return pe, ok
}

// ErrorByName returns the program error called name.
func (i *IDL) ErrorByName(name string) (ProgramError, bool) {
	for _, pe := range i.errors {
		if pe.Name == name {
			return pe, true
		}
	}
	return ProgramError{}, false
}
