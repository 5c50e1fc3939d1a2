/*
connpool is a dialer that puts a cap on the number of open connections towards
a remote host.

Middlebox configuration channels are single-session, line-oriented command
shells. Two controllers (or two operations) opening parallel sessions towards
the same middlebox would interleave their commands, so the migration
controller dials these channels through a Dialer with one connection per host:

	d := &connpool.Dialer{
		Dialer:         net.Dialer{Timeout: 10 * time.Second},
		MaxConnPerHost: 1,
	}
	conn, err := d.DialContext(ctx, "tcp", "10.0.0.1:4433")

The slot is released when the returned connection is closed.
*/
package connpool
