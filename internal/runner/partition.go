package runner

// Partition splits total tasks across n workers as evenly as possible. The
// remainder goes one task each to the first workers.
func Partition(total, n int) []int {
	if n <= 0 {
		return nil
	}
	if total < 0 {
		total = 0
	}
	base, extra := total/n, total%n
	quotas := make([]int, n)
	for i := range quotas {
		quotas[i] = base
		if i < extra {
			quotas[i]++
		}
	}
	return quotas
}
