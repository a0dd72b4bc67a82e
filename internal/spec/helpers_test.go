package spec

// mountFor returns the last mount at target, the one the runtime applies.
func mountFor(s ContainerSpec, target string) (Mount, bool) {
	mounts := s.Mounts()
	for i := len(mounts) - 1; i >= 0; i-- {
		if mounts[i].Target == target {
			return mounts[i], true
		}
	}
	return Mount{}, false
}

func targets(s ContainerSpec) []string {
	mounts := s.Mounts()
	out := make([]string, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, m.Target)
	}
	return out
}
