package harness

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Rules reported by GatePolicy.Check.
const (
	RuleUnparseable = "gate.unparseable"
	RuleEmpty       = "gate.empty"
	RuleFunction    = "gate.function"
	RuleDynamic     = "gate.dynamic_command"
	RuleDenied      = "gate.denylist"
	RuleRemotePipe  = "gate.remote_pipe"
)

// GateRejection explains why a gate command was refused.
type GateRejection struct {
	Command string
	Rule    string
	Reason  string
}

func (r *GateRejection) Error() string {
	return fmt.Sprintf("unsafe gate %q: %s", r.Command, r.Reason)
}

var (
	deniedCommands = map[string]string{
		"sudo":     "runs with elevated privileges",
		"doas":     "runs with elevated privileges",
		"su":       "switches user",
		"dd":       "writes raw devices",
		"shutdown": "stops the machine",
		"reboot":   "stops the machine",
		"halt":     "stops the machine",
		"poweroff": "stops the machine",
		"eval":     "hides the command it runs",
	}
	shells     = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true, "fish": true}
	downloader = map[string]bool{"curl": true, "wget": true}
	// wrappers run their first non-option argument as a command.
	wrappers = map[string]bool{"command": true, "exec": true, "nice": true, "nohup": true, "time": true, "env": true, "timeout": true, "xargs": true}
)

// GatePolicy decides whether a gate command is safe to run unattended.
type GatePolicy struct {
	extra map[string]bool
}

// NewGatePolicy returns the default policy plus extraDenied command names.
func NewGatePolicy(extraDenied ...string) *GatePolicy {
	p := &GatePolicy{extra: make(map[string]bool, len(extraDenied))}
	for _, name := range extraDenied {
		if name = strings.TrimSpace(name); name != "" {
			p.extra[name] = true
		}
	}
	return p
}

// Check parses command as bash and rejects anything on the denylist. A
// command that cannot be parsed is rejected too.
func (p *GatePolicy) Check(command string) error {
	if strings.TrimSpace(command) == "" {
		return &GateRejection{Command: command, Rule: RuleEmpty, Reason: "command is empty"}
	}
	file, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(command), "")
	if err != nil {
		return &GateRejection{Command: command, Rule: RuleUnparseable, Reason: fmt.Sprintf("cannot parse: %v", err)}
	}

	var rejection *GateRejection
	syntax.Walk(file, func(node syntax.Node) bool {
		if rejection != nil {
			return false
		}
		switch n := node.(type) {
		case *syntax.FuncDecl:
			rejection = &GateRejection{Command: command, Rule: RuleFunction, Reason: "declares a function"}
		case *syntax.BinaryCmd:
			if (n.Op == syntax.Pipe || n.Op == syntax.PipeAll) && runsShell(n.Y) && invokesDownloader(n.X) {
				rejection = &GateRejection{Command: command, Rule: RuleRemotePipe, Reason: "pipes a download into a shell"}
			}
		case *syntax.CallExpr:
			if rule, reason := p.checkCall(n); rule != "" {
				rejection = &GateRejection{Command: command, Rule: rule, Reason: reason}
			}
		}
		return rejection == nil
	})
	if rejection != nil {
		return rejection
	}
	return nil
}

func (p *GatePolicy) checkCall(call *syntax.CallExpr) (string, string) {
	args := unwrap(call.Args)
	if len(args) == 0 {
		// Assignments only.
		return "", ""
	}
	raw, static := staticText(args[0])
	if !static || raw == "" {
		return RuleDynamic, "command name is not a literal"
	}
	name := path.Base(raw)
	lits := literals(args[1:])

	if reason, ok := deniedCommands[name]; ok {
		return RuleDenied, fmt.Sprintf("%s %s", name, reason)
	}
	if strings.HasPrefix(name, "mkfs") {
		return RuleDenied, fmt.Sprintf("%s formats a filesystem", name)
	}
	if p.extra[name] {
		return RuleDenied, fmt.Sprintf("%s is denied by configuration", name)
	}
	switch {
	case name == "rm":
		if hasShortFlag(lits, 'r', 'R', 'f') || hasAny(lits, "--recursive", "--force") {
			return RuleDenied, "rm is recursive or forced"
		}
	case name == "git":
		if reason := checkGit(lits); reason != "" {
			return RuleDenied, reason
		}
	case shells[name]:
		for _, a := range args[1:] {
			if invokesDownloader(a) {
				return RuleRemotePipe, "runs a downloaded script"
			}
		}
		return p.checkShellScript(name, args[1:])
	}
	return "", ""
}

// checkShellScript applies the policy to the script a shell runs with -c.
// Arguments that are only known at run time could turn into -c and are
// rejected.
func (p *GatePolicy) checkShellScript(shell string, args []*syntax.Word) (string, string) {
	inlined := false
	for i := 0; i < len(args); i++ {
		text, static := staticText(args[i])
		if !static {
			return RuleDynamic, shell + " argument is not a literal"
		}
		if text == "--" || !strings.HasPrefix(text, "-") || text == "-" {
			if !inlined {
				return "", ""
			}
			if text == "--" {
				continue
			}
			var rej *GateRejection
			if err := p.Check(text); errors.As(err, &rej) {
				return rej.Rule, fmt.Sprintf("%s -c: %s", shell, rej.Reason)
			}
			return "", ""
		}
		if strings.HasPrefix(text, "--") {
			continue
		}
		flags := text[1:]
		if strings.ContainsRune(flags, 'c') {
			inlined = true
		}
		if strings.ContainsAny(flags, "oO") {
			// -o takes an option name.
			i++
		}
	}
	if inlined {
		return RuleEmpty, shell + " -c has no script"
	}
	return "", ""
}

func checkGit(args []string) string {
	// Skip global options; -C and -c take a value.
	i := 0
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		if args[i] == "-C" || args[i] == "-c" {
			i++
		}
		i++
	}
	if i >= len(args) {
		return ""
	}
	sub, rest := args[i], args[i+1:]
	switch sub {
	case "push", "commit", "rebase":
		return "git " + sub + " changes history or remotes"
	case "reset":
		if hasAny(rest, "--hard") {
			return "git reset --hard discards work"
		}
	case "clean":
		if hasShortFlag(rest, 'f') || hasAny(rest, "--force") {
			return "git clean -f deletes files"
		}
	case "branch":
		if hasAny(rest, "-D") || (hasAny(rest, "--delete", "-d") && hasAny(rest, "--force", "-f")) {
			return "git branch -D deletes branches"
		}
	case "checkout":
		for j, a := range rest {
			if a == "--" && j+1 < len(rest) && rest[j+1] == "." {
				return "git checkout -- . discards work"
			}
		}
	}
	return ""
}

// unwrap strips wrapper commands such as env or timeout so the command they
// run is checked.
func unwrap(args []*syntax.Word) []*syntax.Word {
	for len(args) > 0 {
		name := commandName(args[0])
		if !wrappers[name] {
			return args
		}
		args = args[1:]
		for len(args) > 0 {
			lit, _ := staticText(args[0])
			if strings.HasPrefix(lit, "-") || (name == "env" && strings.Contains(lit, "=")) {
				args = args[1:]
				continue
			}
			break
		}
		if name == "timeout" && len(args) > 0 {
			// duration
			args = args[1:]
		}
	}
	return args
}

func literals(words []*syntax.Word) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		text, _ := staticText(w)
		out = append(out, text)
	}
	return out
}

// staticText is the value of w with quotes removed. static is false when
// any part of w is only known at run time; text then holds the literal parts.
func staticText(w *syntax.Word) (text string, static bool) {
	var sb strings.Builder
	static = true
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					sb.WriteString(unescapeQuoted(lit.Value))
				} else {
					static = false
				}
			}
		default:
			static = false
		}
	}
	return sb.String(), static
}

// unescape drops the backslashes of an unquoted literal, so \rm reads as rm.
func unescape(lit string) string {
	if !strings.Contains(lit, `\`) {
		return lit
	}
	var sb strings.Builder
	for i := 0; i < len(lit); i++ {
		if lit[i] == '\\' && i+1 < len(lit) {
			i++
			if lit[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(lit[i])
	}
	return sb.String()
}

// unescapeQuoted handles the escapes bash honours inside double quotes.
func unescapeQuoted(lit string) string {
	if !strings.Contains(lit, `\`) {
		return lit
	}
	var sb strings.Builder
	for i := 0; i < len(lit); i++ {
		if lit[i] == '\\' && i+1 < len(lit) && strings.IndexByte("$`\"\\\n", lit[i+1]) >= 0 {
			i++
			if lit[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(lit[i])
	}
	return sb.String()
}

func commandName(w *syntax.Word) string {
	text, _ := staticText(w)
	return path.Base(text)
}

func hasAny(args []string, want ...string) bool {
	for _, a := range args {
		for _, w := range want {
			if a == w {
				return true
			}
		}
	}
	return false
}

func hasShortFlag(args []string, flags ...rune) bool {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--") {
			continue
		}
		for _, f := range flags {
			if strings.ContainsRune(a[1:], f) {
				return true
			}
		}
	}
	return false
}

func runsShell(stmt *syntax.Stmt) bool {
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		return false
	}
	args := unwrap(call.Args)
	return len(args) > 0 && shells[commandName(args[0])]
}

func invokesDownloader(node syntax.Node) bool {
	found := false
	syntax.Walk(node, func(n syntax.Node) bool {
		if call, ok := n.(*syntax.CallExpr); ok {
			args := unwrap(call.Args)
			if len(args) > 0 && downloader[commandName(args[0])] {
				found = true
			}
		}
		return !found
	})
	return found
}
