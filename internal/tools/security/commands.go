// Package security classifies shell command strings for the registry and
// the governance layer. Classification is conservative: only a single,
// unchained, read-only command earns a green downgrade, while anything that
// deletes, redirects output, elevates privilege, or changes mode/ownership
// is pinned red no matter how the tool was registered.
package security

import (
	"strings"
)

// Class is the outcome of classifying one command string.
type Class int

const (
	// ClassUnknown keeps the tool's registered risk.
	ClassUnknown Class = iota
	// ClassReadOnly allows a green downgrade.
	ClassReadOnly
	// ClassDestructive forces red and is not downgradable.
	ClassDestructive
)

// Classification pairs a class with the pattern that produced it.
type Classification struct {
	Class  Class
	Reason string
}

// readOnlyBins are binaries that never mutate regardless of arguments
// (redirects are caught separately).
var readOnlyBins = map[string]struct{}{
	"ls": {}, "cat": {}, "head": {}, "tail": {}, "grep": {}, "find": {},
	"ps": {}, "df": {}, "du": {}, "free": {}, "uptime": {}, "whoami": {},
	"id": {}, "uname": {}, "date": {}, "pwd": {}, "env": {}, "printenv": {},
	"which": {}, "echo": {}, "wc": {}, "sort": {}, "uniq": {}, "stat": {},
	"file": {}, "hostname": {},
}

// readOnlyVerbs are subcommands that only observe state (docker ps, git
// status, kubectl get, systemctl status, ...).
var readOnlyVerbs = map[string]struct{}{
	"ps": {}, "ls": {}, "list": {}, "logs": {}, "log": {}, "inspect": {},
	"status": {}, "info": {}, "get": {}, "show": {}, "describe": {},
	"top": {}, "stats": {}, "version": {}, "events": {}, "history": {},
	"search": {}, "diff": {},
}

// mutatingVerbs disqualify a command from the read-only downgrade even when
// a read-only verb also appears.
var mutatingVerbs = map[string]struct{}{
	"restart": {}, "start": {}, "stop": {}, "run": {}, "exec": {},
	"apply": {}, "create": {}, "set": {}, "update": {}, "push": {},
	"deploy": {}, "scale": {}, "rollout": {}, "up": {}, "down": {},
	"install": {}, "uninstall": {}, "add": {}, "commit": {}, "merge": {},
	"rebase": {}, "reset": {}, "write": {}, "edit": {}, "patch": {},
	"build": {}, "prune": {}, "kill": {},
}

// destructiveTokens force red when they appear as a standalone token.
var destructiveTokens = map[string]string{
	"rm": "file removal", "rmdir": "directory removal", "unlink": "file removal",
	"shred": "file destruction", "dd": "raw device write", "truncate": "file truncation",
	"delete": "deletion", "del": "deletion", "remove": "deletion",
	"purge": "deletion", "destroy": "deletion", "drop": "deletion",
	"format": "disk format", "fdisk": "disk partitioning", "parted": "disk partitioning",
	"sudo": "privilege elevation", "su": "privilege elevation",
	"doas": "privilege elevation", "pkexec": "privilege elevation",
	"chmod": "mode change", "chown": "ownership change",
	"chgrp": "ownership change", "setfacl": "acl change",
	"mkfs": "filesystem creation",
}

// chainTokens make a command opaque to classification: the visible part may
// be read-only while the chained part is not.
var chainTokens = []string{";", "&&", "||", "|", "`", "$("}

// Classify grades one command string. Destructive wins over read-only; any
// command chaining or substitution blocks the read-only downgrade.
func Classify(cmd string) Classification {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Classification{Class: ClassUnknown}
	}

	bare := stripQuoted(cmd)

	if strings.Contains(bare, ">") {
		return Classification{Class: ClassDestructive, Reason: "output redirect"}
	}

	tokens := strings.Fields(strings.ToLower(bare))
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "mkfs") {
			return Classification{Class: ClassDestructive, Reason: "filesystem creation"}
		}
		if reason, ok := destructiveTokens[tok]; ok {
			return Classification{Class: ClassDestructive, Reason: reason}
		}
	}

	for _, chain := range chainTokens {
		if strings.Contains(bare, chain) {
			return Classification{Class: ClassUnknown, Reason: "command chaining"}
		}
	}

	for _, tok := range tokens {
		if _, ok := mutatingVerbs[tok]; ok {
			return Classification{Class: ClassUnknown, Reason: "mutating verb"}
		}
	}

	if len(tokens) > 0 {
		if _, ok := readOnlyBins[tokens[0]]; ok {
			return Classification{Class: ClassReadOnly, Reason: "read-only binary"}
		}
	}
	// Look for a read-only verb in the first few positions so multi-word
	// CLIs like "docker ps -a" and "kubectl get pods" qualify.
	for i, tok := range tokens {
		if i == 0 || i > 3 {
			continue
		}
		if strings.HasPrefix(tok, "-") {
			continue
		}
		if _, ok := readOnlyVerbs[tok]; ok {
			return Classification{Class: ClassReadOnly, Reason: "read-only verb"}
		}
	}

	return Classification{Class: ClassUnknown}
}

// IsReadOnly reports whether cmd qualifies for the green downgrade.
func IsReadOnly(cmd string) bool {
	return Classify(cmd).Class == ClassReadOnly
}

// IsDestructive reports whether cmd is pinned red.
func IsDestructive(cmd string) bool {
	return Classify(cmd).Class == ClassDestructive
}

// CheckDeclared vets a command template declared at tool registration.
// It returns a non-empty reason when the template is destructive or splices
// caller input straight into a shell line.
func CheckDeclared(tmpl string) string {
	if c := Classify(tmpl); c.Class == ClassDestructive {
		return c.Reason
	}
	bare := stripQuoted(tmpl)
	if strings.ContainsAny(bare, "{}") || strings.Contains(bare, "%s") || strings.Contains(bare, "$") {
		return "unconditional parameter concatenation"
	}
	return ""
}

// stripQuoted blanks out single- and double-quoted spans so quoted data is
// never mistaken for shell syntax.
func stripQuoted(cmd string) string {
	var sb strings.Builder
	sb.Grow(len(cmd))
	inSingle, inDouble, escaped := false, false, false
	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case escaped:
			escaped = false
			sb.WriteByte(' ')
		case c == '\\' && !inSingle:
			escaped = true
			sb.WriteByte(' ')
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			sb.WriteByte(' ')
		case c == '"' && !inSingle:
			inDouble = !inDouble
			sb.WriteByte(' ')
		case inSingle || inDouble:
			sb.WriteByte(' ')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
