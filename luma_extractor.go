// luma_extractor.go - blit + mipmap-reduce + readback, HSP luma conversion

package main

import (
	"fmt"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// LumaSentinel is the value Extract returns alongside a non-nil error;
// the dispatcher never looks at it once it has the error and exists
// only so Extract always returns a well-formed int.
const LumaSentinel = -1

// PermanentExtractError marks an extraction failure that will recur
// on every subsequent frame: the captured output changed resolution
// after the staging image was sized and built. The dispatcher treats
// it the same way it treats a permanent capture cancellation.
type PermanentExtractError struct {
	reason string
}

func (e *PermanentExtractError) Error() string {
	return "luma extractor: " + e.reason
}

// LumaExtractor owns the persistent staging image: a 2-D image sized
// to half the captured frame with ⌊log2(max(W,H))⌋ mip levels,
// rebuilt only the first time a frame is observed and reused for the
// rest of the process lifetime. Resize is unsupported: once built, a
// differently-sized frame is a fatal error to the caller.
type LumaExtractor struct {
	gpu *GPUContext

	built      bool
	width      uint32
	height     uint32
	mipLevels  uint32
	stageImage vk.Image
	stageMem   vk.DeviceMemory
}

// NewLumaExtractor wraps gpu; the staging image is created lazily on
// the first call to Extract.
func NewLumaExtractor(gpu *GPUContext) *LumaExtractor {
	return &LumaExtractor{gpu: gpu}
}

// Extract runs the full blit/mipmap/readback pipeline against frame
// and returns a luma percentage in [0, 100]. An ordinary error (a
// submit/wait/map failure or fence timeout) means this one cycle
// should be skipped; a *PermanentExtractError means the output's
// resolution changed underneath the staging image and extraction can
// never succeed again without rebuilding state this extractor does
// not support rebuilding.
func (e *LumaExtractor) Extract(frame *ImportedImage) (int, error) {
	if !e.built {
		if err := e.buildStagingImage(frame.width, frame.height); err != nil {
			return LumaSentinel, err
		}
	} else if max(frame.width/2, 1) != e.width || max(frame.height/2, 1) != e.height {
		return LumaSentinel, &PermanentExtractError{reason: fmt.Sprintf(
			"captured output resized to %dx%d after the staging image was built at %dx%d",
			frame.width, frame.height, e.width, e.height)}
	}

	gpu := e.gpu
	vk.ResetFences(gpu.device, 1, []vk.Fence{gpu.fence})
	vk.ResetCommandBuffer(gpu.commandBuffer, 0)

	begin := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(gpu.commandBuffer, &begin); res != vk.Success {
		return LumaSentinel, fmt.Errorf("luma extractor: vkBeginCommandBuffer failed: %d", res)
	}

	transitionImage(gpu.commandBuffer, frame.image, vk.ImageLayoutUndefined, vk.ImageLayoutTransferSrcOptimal, 0, 1)
	transitionImage(gpu.commandBuffer, e.stageImage, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal, 0, e.mipLevels)

	blit(gpu.commandBuffer, frame.image, 0, int32(frame.width), int32(frame.height),
		e.stageImage, 0, int32(e.width), int32(e.height))

	w, h := int32(e.width), int32(e.height)
	for i := uint32(1); i < e.mipLevels; i++ {
		transitionImage(gpu.commandBuffer, e.stageImage, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal, i-1, 1)
		nw, nh := w/2, h/2
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		blit(gpu.commandBuffer, e.stageImage, i-1, w, h, e.stageImage, i, nw, nh)
		w, h = nw, nh
	}

	lastMip := e.mipLevels - 1
	transitionImage(gpu.commandBuffer, e.stageImage, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal, lastMip, 1)

	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   lastMip,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: 1, Height: 1, Depth: 1},
	}
	vk.CmdCopyImageToBuffer(gpu.commandBuffer, e.stageImage, vk.ImageLayoutTransferSrcOptimal, gpu.readback, 1, []vk.BufferImageCopy{region})

	if res := vk.EndCommandBuffer(gpu.commandBuffer); res != vk.Success {
		return LumaSentinel, fmt.Errorf("luma extractor: vkEndCommandBuffer failed: %d", res)
	}

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{gpu.commandBuffer},
	}
	if res := vk.QueueSubmit(gpu.queue, 1, []vk.SubmitInfo{submit}, gpu.fence); res != vk.Success {
		return LumaSentinel, fmt.Errorf("luma extractor: vkQueueSubmit failed: %d", res)
	}
	if res := vk.WaitForFences(gpu.device, 1, []vk.Fence{gpu.fence}, vk.True, readbackFenceTimeoutNanos); res != vk.Success {
		return LumaSentinel, fmt.Errorf("luma extractor: vkWaitForFences failed or timed out: %d", res)
	}

	var data unsafe.Pointer
	if res := vk.MapMemory(gpu.device, gpu.readbackMemory, 0, 4, 0, &data); res != vk.Success {
		return LumaSentinel, fmt.Errorf("luma extractor: vkMapMemory failed: %d", res)
	}
	pixel := (*[4]byte)(data)
	r, g, b := float64(pixel[0]), float64(pixel[1]), float64(pixel[2])
	vk.UnmapMemory(gpu.device, gpu.readbackMemory)

	luma := math.Sqrt(0.241*r*r+0.691*g*g+0.068*b*b) / 255 * 100
	return int(math.Round(luma)), nil
}

// buildStagingImage creates the half-resolution, mip-chained staging
// image on first use. It is never rebuilt for the remainder of the
// process lifetime.
func (e *LumaExtractor) buildStagingImage(frameW, frameH uint32) error {
	w, h := frameW/2, frameH/2
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	mipLevels := uint32(math.Log2(float64(maxDim))) + 1

	info := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        vk.FormatB8g8r8a8Unorm,
		Extent:        vk.Extent3D{Width: w, Height: h, Depth: 1},
		MipLevels:     mipLevels,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit),
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var image vk.Image
	if res := vk.CreateImage(e.gpu.device, &info, nil, &image); res != vk.Success {
		return fmt.Errorf("luma extractor: vkCreateImage (staging) failed: %d", res)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(e.gpu.device, image, &reqs)
	reqs.Deref()
	typeIndex, err := e.gpu.findMemoryType(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(e.gpu.device, image, nil)
		return err
	}
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(e.gpu.device, &allocInfo, nil, &memory); res != vk.Success {
		vk.DestroyImage(e.gpu.device, image, nil)
		return fmt.Errorf("luma extractor: vkAllocateMemory (staging) failed: %d", res)
	}
	vk.BindImageMemory(e.gpu.device, image, memory, 0)

	e.stageImage = image
	e.stageMem = memory
	e.width, e.height, e.mipLevels = w, h, mipLevels
	e.built = true
	return nil
}

// Close destroys the persistent staging image, if one was ever built.
func (e *LumaExtractor) Close() {
	if !e.built {
		return
	}
	vk.DestroyImage(e.gpu.device, e.stageImage, nil)
	vk.FreeMemory(e.gpu.device, e.stageMem, nil)
}

func transitionImage(cmd vk.CommandBuffer, image vk.Image, oldLayout, newLayout vk.ImageLayout, baseMip, mipCount uint32) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   baseMip,
			LevelCount:     mipCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// blit performs a linear-filtered downsample blit from one mip level
// of srcImage into one mip level of dstImage.
func blit(cmd vk.CommandBuffer, srcImage vk.Image, srcMip uint32, srcW, srcH int32,
	dstImage vk.Image, dstMip uint32, dstW, dstH int32) {
	region := vk.ImageBlit{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   srcMip,
			LayerCount: 1,
		},
		SrcOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: srcW, Y: srcH, Z: 1},
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:   dstMip,
			LayerCount: 1,
		},
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: dstW, Y: dstH, Z: 1},
		},
	}
	vk.CmdBlitImage(cmd,
		srcImage, vk.ImageLayoutTransferSrcOptimal,
		dstImage, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)
}
