// Package sshsession owns the live remote sessions of the process.
//
// A [Manager] authenticates against a remote host through a [Dialer], registers
// the resulting [Session] under a server-generated id, and hands out the two
// channels every other component works with: the PTY-backed [ShellChannel]
// used by the interactive bridge, and the lazily opened [FileChannel] shared
// by the filesystem adapter and the transfer engine.
//
// # Lifecycle
//
//  1. [Manager.CreateSession] dials and authenticates. Failures are classified
//     as [ErrConnectFailed] or [ErrAuthenticationFailed]; nothing is registered
//     and nothing is retried.
//  2. [Manager.FileChannel] opens the SFTP channel on first use. Concurrent
//     first callers share one open through a singleflight group, and every
//     later caller reuses the cached channel.
//  3. [Manager.MarkError] moves a session to the error status without removing
//     it. The keepalive loop does the same for connections that stop answering.
//  4. [Manager.CloseSession] is idempotent. It removes the session from the map
//     exactly once and releases the shell, the file channel and the connection.
//     [Manager.Shutdown] closes everything concurrently within a deadline.
//
// # Rate Limiting
//
// [RateLimiter] keys attempts by user@host:port. It allows 10 attempts per
// minute and blocks a target for 5 minutes after 5 consecutive failures.
//
// # Usage
//
//	dialer, err := sshsession.NewSSHDialer(sshsession.HostKeyInsecure, "")
//	mgr := sshsession.NewManager(dialer, sshsession.DefaultConfig())
//	defer mgr.Shutdown(context.Background())
//
//	s, err := mgr.CreateSession(ctx, sshsession.Params{
//	    Host: "10.0.0.5", Port: 22, Username: "deploy",
//	    AuthType: sshsession.AuthPassword, Password: pw,
//	})
//	fc, err := mgr.FileChannel(s.ID)
//
// # Log Prefixes
//
// All log output uses the [session] prefix.
package sshsession
