// Package compress shrinks images and videos until they fit under the chat
// upload ceiling.
//
// Engine.Convert classifies the input with ffprobe, then either passes small
// files through untouched or re-encodes them with ffmpeg: images to WebP with
// a falling quality setting, videos to H.265 MP4 at a bitrate planned from
// the probed stream info. Each attempt's output is checked against Ceiling
// and a failed or oversized attempt moves on to the next one until the
// attempt budget runs out.
//
// Every intermediate file lives in the workspace and is removed before
// Convert returns; on success only Result.Path remains and the caller owns it.
package compress
