package call

// DeriveChannelName returns the media channel shared by a and b. Both sides
// compute the same name regardless of argument order.
func DeriveChannelName(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "call_" + a + "_" + b
}
