// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
)

type Id int

const (
	ServerUnreachableId Id = iota + 1
	SyncTimeoutId
	ServerBusyId
	MalformedRequestId
	ListenFailedId
	ConfigNotFoundId
	ConfigInvalidId
	AsymmetricDependenciesId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the Markdown message with the given glamour style
// ("dark", "light", "notty", ...).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	criuActionScripts HttpLink = "https://criu.org/Action_scripts"

	serverUnreachableIssue = &Issue{
		id: ServerUnreachableId,
		mdMsg: `
# The coordinator is not reachable

The client could not open a connection to the coordinator before the connect timeout expired.

## Things you can try
- Check that the coordinator is running on the configured address:
~~~
$ criu-coordinator server --address 0.0.0.0 --port 8080
~~~
- Compare the ` + "`address`" + ` and ` + "`port`" + ` keys of ` + "`criu-coordinator.json`" + ` with the server flags
- Raise ` + "`connect_timeout`" + ` if the coordinator starts after the checkpoint is triggered`,
		docLinks: []HttpLink{criuActionScripts},
	}

	syncTimeoutIssue = &Issue{
		id: SyncTimeoutId,
		mdMsg: `
# The dependency group did not synchronize in time

At least one member of the group never reached this phase before the coordinator's wait timeout.
CRIU aborts the phase so that no member is checkpointed or restored alone.

## Things you can try
- Make sure every dependency is checkpointed in the same run
- Declare dependencies in both directions (` + "`a` depends on `b` and `b` depends on `a`" + `)
- Check the group with:
~~~
$ criu-coordinator deps check --config /etc/criu/criu-coordinator.json
~~~
- Raise the server ` + "`wait_timeout`" + ` for slow dumps`,
	}

	serverBusyIssue = &Issue{
		id: ServerBusyId,
		mdMsg: `
# The coordinator is busy

Every session slot of the coordinator is in use.

## Things you can try
- Raise ` + "`max_sessions`" + ` on the server
- Look for clients that connect and never send a request`,
	}

	malformedRequestIssue = &Issue{
		id: MalformedRequestId,
		mdMsg: `
# The coordinator rejected the request

The request was not valid JSON, or its entity ID, action or dependency list was invalid.
Entity IDs must not be empty and must not contain ` + "`:`" + ` or whitespace.`,
	}

	listenFailedIssue = &Issue{
		id: ListenFailedId,
		mdMsg: `
# The coordinator could not listen

The address is invalid or the port is already in use.

## Things you can try
- Pick another port with ` + "`--port`" + `
- Use ` + "`--port 0`" + ` to let the system choose a free port`,
	}

	configNotFoundIssue = &Issue{
		id: ConfigNotFoundId,
		mdMsg: `
# No coordinator configuration found

When CRIU runs ` + "`criu-coordinator`" + ` as an action script, the per-entity configuration is read from
` + "`criu-coordinator.json`" + ` (or ` + "`.cue`" + `) in the images directory, then in ` + "`/etc/criu`" + `.

## Example
~~~json
{
  "id": "web",
  "dependencies": "db:cache",
  "address": "127.0.0.1",
  "port": "8080",
  "log-file": "coordinator.log"
}
~~~`,
		docLinks: []HttpLink{criuActionScripts},
	}

	configInvalidIssue = &Issue{
		id: ConfigInvalidId,
		mdMsg: `
# The configuration is invalid

The file does not match the configuration schema. The error above names the offending path.

## Things you can try
- Print the effective configuration:
~~~
$ criu-coordinator config show
~~~`,
	}

	asymmetricDependenciesIssue = &Issue{
		id: AsymmetricDependenciesId,
		mdMsg: `
# One-sided dependency declarations

Dependencies are honored exactly as declared. When ` + "`a`" + ` depends on ` + "`b`" + ` but ` + "`b`" + ` does not
depend on ` + "`a`" + `, ` + "`b`" + ` may pass the phase without waiting for ` + "`a`" + `.

## Things you can try
- Declare the dependency on both sides unless the one-way wait is intended`,
	}

	issues = map[Id]*Issue{
		serverUnreachableIssue.Id():      serverUnreachableIssue,
		syncTimeoutIssue.Id():            syncTimeoutIssue,
		serverBusyIssue.Id():             serverBusyIssue,
		malformedRequestIssue.Id():       malformedRequestIssue,
		listenFailedIssue.Id():           listenFailedIssue,
		configNotFoundIssue.Id():         configNotFoundIssue,
		configInvalidIssue.Id():          configInvalidIssue,
		asymmetricDependenciesIssue.Id(): asymmetricDependenciesIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := maps.Values(issues)
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
