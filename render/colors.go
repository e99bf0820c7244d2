package render

import "image/color"

var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 50, A: 255}
	Pink   = color.RGBA{R: 255, G: 0, B: 255, A: 255}

	// bannerBackground sits behind the status text
	bannerBackground = color.RGBA{R: 28, G: 28, B: 30, A: 255}

	// posePalette are the colors used for the skeleton
	posePalette = []color.RGBA{
		{R: 255, G: 128, B: 0, A: 255},
		{R: 255, G: 51, B: 255, A: 255},
		{R: 51, G: 153, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
	}

	arms  = posePalette[2]
	legs  = posePalette[0]
	torso = posePalette[1]
	head  = posePalette[3]

	// jointColors are indexed by keypoint.Joint
	jointColors = [18]color.RGBA{
		head, torso,
		arms, arms, arms,
		arms, arms, arms,
		legs, legs, legs,
		legs, legs, legs,
		head, head, head, head,
	}
)
