package xconf_test

import (
	"fmt"

	"github.com/omeyang/graylb/pkg/config/xconf"
)

func ExampleLoadBalancer() {
	data := []byte(`
rules:
  billing: random
discovery:
  static:
    orders:
      - host: 10.0.0.2
        port: 8080
        metadata: {gray: "true"}
`)
	cfg, err := xconf.NewFromBytes(data, xconf.FormatYAML)
	if err != nil {
		fmt.Println(err)
		return
	}
	b, err := xconf.LoadBalancer(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(b.DefaultRule, b.Rules["billing"], b.Discovery.Backend)
	fmt.Println(b.Discovery.Static["orders"][0].Metadata["gray"])
	// Output:
	// gray random static
	// true
}
