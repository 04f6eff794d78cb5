// Package secrets redacts credentials from strategy text before it is
// embedded, stored or published.
//
// Patterns are recorded from live agent sessions, so a strategy such as
// "export GITHUB_TOKEN=ghp_... before running the release" would otherwise
// be persisted verbatim and returned by every similar search. A Redactor
// runs the gitleaks default rule set together with a small set of local
// rules for shapes gitleaks leaves alone (key=value credentials, bearer
// headers, connection strings), replaces each match with a fixed marker
// and reports which rules fired without retaining the matched values.
package secrets
