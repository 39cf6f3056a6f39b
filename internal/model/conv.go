package model

const digits = "0123456789"

// Itoa formats small non-negative ints (indicator periods, window sizes)
// without pulling strconv into the hot path.
func Itoa(n int) string {
	if n < 0 {
		return "-" + Itoa(-n)
	}
	if n < 10 {
		return digits[n : n+1]
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf[i:])
}
