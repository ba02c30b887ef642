// Package gitclient runs git operations against two interchangeable backends
// that share one trust and dispatch layer.
//
// The CLI backend drives a native git binary as an external process; the
// embedded backend runs go-git in-process. Both resolve credentials from the
// same credentials.Store, verify SSH host keys with the same hostkey.Strategy
// and fan out independent sub-operations through dispatch.Dispatch.
//
// # Basic Usage
//
//	store := credentials.NewStore()
//	store.Bind("https://github.com/org/private.git", credentials.NewToken("ci", token))
//	store.SetDefault(credentials.NewSSHPrivateKey("deploy", "git", keyPEM, ""))
//
//	client, err := gitclient.New(&gitclient.Options{
//	    Backend:     gitclient.BackendEmbedded,
//	    Credentials: store,
//	    HostKeys:    hostkey.NewKnownHostsFile("/etc/ssh/ssh_known_hosts"),
//	    Parallelism: 4,
//	})
//
//	refs, err := client.LsRemote(ctx, "git@github.com:org/repo.git")
//	err = client.Clone(ctx, "https://github.com/org/private.git", "/src/private")
//	updated, err := client.SubmoduleUpdate(ctx, "/src/private")
//
// # Secrets on the CLI backend
//
// The CLI backend never places secrets on the command line. HTTP credentials
// travel as an http.<url>.extraHeader entry through GIT_CONFIG_COUNT, and SSH
// keys are written with mode 0600 into a scratch directory that exists only
// for the duration of one git process.
//
// # Errors
//
// Operations return errors that match the sentinels of this package,
// hostkey.ErrHostKeyRejected, credentials.ErrCredentialNotFound and, for
// FetchAll and SubmoduleUpdate, dispatch.ErrTaskFailure or
// dispatch.ErrInterrupted.
package gitclient
