package node_test

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-convolve/asset"
	"github.com/cwbudde/algo-convolve/dsp/node"
)

func ExampleConvolution() {
	impulses := asset.NewMemoryLoader()
	_ = impulses.Add("echo.wav", asset.AudioFiles, 48000, []float64{1, 0, 0.5})

	n := node.NewConvolution(asset.NewPool(impulses), node.WithSynchronousTail())
	defer n.Close()

	if err := n.Prepare(1, 48000, 4); err != nil {
		fmt.Println(err)
		return
	}
	if err := n.SetProperty(node.PropertyImpulse, "echo.wav"); err != nil {
		fmt.Println(err)
		return
	}

	block := [][]float64{{1, 0, 0, 0}}
	_ = n.Process(block)
	for i, v := range block[0] {
		block[0][i] = math.Round(v*10)/10 + 0 // +0 drops negative zero
	}
	fmt.Printf("%s: %.1f\n", n.Impulse(), block[0])

	err := n.SetProperty(node.PropertyImpulse, "missing.wav")
	fmt.Println(err != nil, n.Impulse())

	// Output:
	// echo.wav: [1.0 0.0 0.5 0.0]
	// true echo.wav
}
