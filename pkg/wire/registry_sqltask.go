//go:build sqltask

package wire

func init() {
	Kinds = append(Kinds, KindSQL)
	SQLTaskEnabled = true
}
