//go:build !linux

package transfer

func renameNoReplace(from, to string) error {
	return renameIfAbsent(from, to)
}
